package models

import (
	"strconv"
	"time"
)

type User struct {
	ID           int       `json:"id"`
	TenantID     int       `json:"tenant_id"`
	TenantName   string    `json:"tenant_name,omitempty"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u User) CacheID() string {
	return strconv.Itoa(u.ID)
}

// UserSummary is the joined form of a user embedded in other records.
type UserSummary struct {
	ID        int    `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type Beneficiary struct {
	ID           int              `json:"id"`
	TenantID     int              `json:"tenant_id"`
	CaseworkerID *int             `json:"caseworker_id,omitempty"`
	FirstName    string           `json:"first_name"`
	LastName     string           `json:"last_name"`
	Email        string           `json:"email,omitempty"`
	Phone        string           `json:"phone,omitempty"`
	Status       string           `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Caseworker   *UserSummary     `json:"caseworker,omitempty"`
	Programs     []ProgramSummary `json:"programs"`
}

func (b Beneficiary) CacheID() string {
	return strconv.Itoa(b.ID)
}

// BeneficiaryInput is the writable part of a beneficiary.
type BeneficiaryInput struct {
	FirstName    string `json:"first_name" validate:"required,max=100"`
	LastName     string `json:"last_name" validate:"required,max=100"`
	Email        string `json:"email" validate:"omitempty,email,max=255"`
	Phone        string `json:"phone" validate:"omitempty,max=32"`
	Status       string `json:"status" validate:"omitempty,oneof=active inactive graduated"`
	CaseworkerID *int   `json:"caseworker_id" validate:"omitempty,gt=0"`
	ProgramIDs   []int  `json:"program_ids" validate:"omitempty,dive,gt=0"`
}

type BeneficiaryFilter struct {
	TenantID int
	Status   string
	Search   string
	Page     int
	PerPage  int
}

type BeneficiaryPage struct {
	Items   []Beneficiary `json:"items"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}

type Program struct {
	ID          int          `json:"id"`
	TenantID    int          `json:"tenant_id"`
	CreatedByID *int         `json:"created_by_id,omitempty"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Status      string       `json:"status"`
	Capacity    int          `json:"capacity"`
	StartDate   *time.Time   `json:"start_date,omitempty"`
	EndDate     *time.Time   `json:"end_date,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	CreatedBy   *UserSummary `json:"created_by,omitempty"`
}

func (p Program) CacheID() string {
	return strconv.Itoa(p.ID)
}

type ProgramSummary struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type Appointment struct {
	ID              int          `json:"id"`
	BeneficiaryID   int          `json:"beneficiary_id"`
	TrainerID       *int         `json:"trainer_id,omitempty"`
	Title           string       `json:"title"`
	Status          string       `json:"status"`
	ScheduledAt     time.Time    `json:"scheduled_at"`
	DurationMinutes int          `json:"duration_minutes"`
	Location        string       `json:"location,omitempty"`
	Trainer         *UserSummary `json:"trainer,omitempty"`
}

type Evaluation struct {
	ID            int          `json:"id"`
	BeneficiaryID int          `json:"beneficiary_id"`
	EvaluatorID   *int         `json:"evaluator_id,omitempty"`
	Title         string       `json:"title"`
	Status        string       `json:"status"`
	Score         *float64     `json:"score,omitempty"`
	EvaluatedAt   *time.Time   `json:"evaluated_at,omitempty"`
	Evaluator     *UserSummary `json:"evaluator,omitempty"`
}

type AccessLog struct {
	ID             int64     `json:"id"`
	TenantID       int       `json:"tenant_id"`
	UserID         *int      `json:"user_id,omitempty"`
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	StatusCode     int       `json:"status_code"`
	ResponseTimeMs int       `json:"response_time_ms"`
	RequestSize    int64     `json:"request_size"`
	ResponseSize   int64     `json:"response_size"`
	CacheStatus    string    `json:"cache_status,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
