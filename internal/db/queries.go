package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/HanTheDev/beneficiary-center/internal/models"
)

// ErrNotFound is returned when a record does not exist within the caller's tenant.
var ErrNotFound = errors.New("db: not found")

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

var beneficiaryColumns = []string{
	"b.id", "b.tenant_id", "b.caseworker_id", "b.first_name", "b.last_name",
	"COALESCE(b.email, '')", "COALESCE(b.phone, '')", "b.status", "b.created_at", "b.updated_at",
}

type userRef struct {
	id                     *int
	first, last, emailAddr *string
}

func (r *userRef) targets() []any {
	return []any{&r.id, &r.first, &r.last, &r.emailAddr}
}

func (r userRef) summary() *models.UserSummary {
	if r.id == nil {
		return nil
	}
	s := &models.UserSummary{ID: *r.id}
	if r.first != nil {
		s.FirstName = *r.first
	}
	if r.last != nil {
		s.LastName = *r.last
	}
	if r.emailAddr != nil {
		s.Email = *r.emailAddr
	}
	return s
}

func normalizePage(f models.BeneficiaryFilter) models.BeneficiaryFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = defaultPerPage
	}
	if f.PerPage > maxPerPage {
		f.PerPage = maxPerPage
	}
	return f
}

func beneficiaryConditions(f models.BeneficiaryFilter) squirrel.And {
	cond := squirrel.And{squirrel.Eq{"b.tenant_id": f.TenantID}}
	if f.Status != "" {
		cond = append(cond, squirrel.Eq{"b.status": f.Status})
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		cond = append(cond, squirrel.Expr("(b.first_name ILIKE ? OR b.last_name ILIKE ? OR b.email ILIKE ?)", pattern, pattern, pattern))
	}
	return cond
}

func beneficiaryListQuery(f models.BeneficiaryFilter) squirrel.SelectBuilder {
	f = normalizePage(f)
	return OptimizeBeneficiaryQuery(psql.Select(beneficiaryColumns...).From("beneficiaries b")).
		Where(beneficiaryConditions(f)).
		OrderBy("b.last_name", "b.first_name", "b.id").
		Limit(uint64(f.PerPage)).
		Offset(uint64((f.Page - 1) * f.PerPage))
}

func beneficiaryCountQuery(f models.BeneficiaryFilter) squirrel.SelectBuilder {
	return psql.Select("COUNT(*)").From("beneficiaries b").Where(beneficiaryConditions(f))
}

func scanBeneficiary(row pgx.Row) (models.Beneficiary, error) {
	var (
		b  models.Beneficiary
		cw userRef
	)
	targets := []any{
		&b.ID, &b.TenantID, &b.CaseworkerID, &b.FirstName, &b.LastName,
		&b.Email, &b.Phone, &b.Status, &b.CreatedAt, &b.UpdatedAt,
	}
	if err := row.Scan(append(targets, cw.targets()...)...); err != nil {
		return b, err
	}
	b.Caseworker = cw.summary()
	b.Programs = []models.ProgramSummary{}
	return b, nil
}

func (db *DB) ListBeneficiaries(ctx context.Context, f models.BeneficiaryFilter) (models.BeneficiaryPage, error) {
	f = normalizePage(f)
	page := models.BeneficiaryPage{Items: []models.Beneficiary{}, Page: f.Page, PerPage: f.PerPage}

	query, args, err := beneficiaryCountQuery(f).ToSql()
	if err != nil {
		return page, fmt.Errorf("db: build beneficiary count: %w", err)
	}
	if err := db.Pool.QueryRow(ctx, query, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("db: count beneficiaries: %w", err)
	}

	query, args, err = beneficiaryListQuery(f).ToSql()
	if err != nil {
		return page, fmt.Errorf("db: build beneficiary list: %w", err)
	}
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return page, fmt.Errorf("db: list beneficiaries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		b, err := scanBeneficiary(rows)
		if err != nil {
			return page, fmt.Errorf("db: scan beneficiary: %w", err)
		}
		page.Items = append(page.Items, b)
	}
	if err := rows.Err(); err != nil {
		return page, fmt.Errorf("db: list beneficiaries: %w", err)
	}
	rows.Close()

	if err := db.loadBeneficiaryPrograms(ctx, page.Items); err != nil {
		return page, err
	}
	return page, nil
}

func (db *DB) GetBeneficiary(ctx context.Context, tenantID, id int) (*models.Beneficiary, error) {
	query, args, err := OptimizeBeneficiaryQuery(psql.Select(beneficiaryColumns...).From("beneficiaries b")).
		Where(squirrel.Eq{"b.id": id, "b.tenant_id": tenantID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("db: build beneficiary get: %w", err)
	}

	b, err := scanBeneficiary(db.Pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: get beneficiary %d: %w", id, err)
	}

	items := []models.Beneficiary{b}
	if err := db.loadBeneficiaryPrograms(ctx, items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

// loadBeneficiaryPrograms fills Programs for every item with one statement.
func (db *DB) loadBeneficiaryPrograms(ctx context.Context, items []models.Beneficiary) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]int, len(items))
	index := make(map[int]int, len(items))
	for i, b := range items {
		ids[i] = b.ID
		index[b.ID] = i
	}

	stmt, _ := BeneficiaryPlan.Batch("programs", ids)
	query, args, err := stmt.ToSql()
	if err != nil {
		return fmt.Errorf("db: build program batch: %w", err)
	}
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db: load beneficiary programs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			parentID int
			p        models.ProgramSummary
		)
		if err := rows.Scan(&parentID, &p.ID, &p.Name, &p.Status); err != nil {
			return fmt.Errorf("db: scan beneficiary program: %w", err)
		}
		if i, ok := index[parentID]; ok {
			items[i].Programs = append(items[i].Programs, p)
		}
	}
	return rows.Err()
}

func (db *DB) CreateBeneficiary(ctx context.Context, tenantID int, in models.BeneficiaryInput) (*models.Beneficiary, error) {
	status := in.Status
	if status == "" {
		status = "active"
	}

	var id int
	err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		query := `
            INSERT INTO beneficiaries (tenant_id, caseworker_id, first_name, last_name, email, phone, status)
            VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)
            RETURNING id
        `
		if err := tx.QueryRow(ctx, query,
			tenantID,
			in.CaseworkerID,
			in.FirstName,
			in.LastName,
			in.Email,
			in.Phone,
			status,
		).Scan(&id); err != nil {
			return err
		}
		return replaceEnrollments(ctx, tx, id, in.ProgramIDs)
	})
	if err != nil {
		return nil, fmt.Errorf("db: create beneficiary: %w", err)
	}

	return db.GetBeneficiary(ctx, tenantID, id)
}

func (db *DB) UpdateBeneficiary(ctx context.Context, tenantID, id int, in models.BeneficiaryInput) (*models.Beneficiary, error) {
	err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		query := `
            UPDATE beneficiaries
            SET caseworker_id = $1, first_name = $2, last_name = $3,
                email = NULLIF($4, ''), phone = NULLIF($5, ''),
                status = COALESCE(NULLIF($6, ''), status), updated_at = NOW()
            WHERE id = $7 AND tenant_id = $8
        `
		tag, err := tx.Exec(ctx, query,
			in.CaseworkerID,
			in.FirstName,
			in.LastName,
			in.Email,
			in.Phone,
			in.Status,
			id,
			tenantID,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if in.ProgramIDs == nil {
			return nil
		}
		return replaceEnrollments(ctx, tx, id, in.ProgramIDs)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: update beneficiary %d: %w", id, err)
	}

	return db.GetBeneficiary(ctx, tenantID, id)
}

func replaceEnrollments(ctx context.Context, tx pgx.Tx, beneficiaryID int, programIDs []int) error {
	if _, err := tx.Exec(ctx, `DELETE FROM program_enrollments WHERE beneficiary_id = $1`, beneficiaryID); err != nil {
		return err
	}
	if len(programIDs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
        INSERT INTO program_enrollments (beneficiary_id, program_id)
        SELECT $1, unnest($2::int[])
        ON CONFLICT DO NOTHING
    `, beneficiaryID, programIDs)
	return err
}

func (db *DB) DeleteBeneficiary(ctx context.Context, tenantID, id int) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM beneficiaries WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("db: delete beneficiary %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var programColumns = []string{
	"p.id", "p.tenant_id", "p.created_by_id", "p.name", "COALESCE(p.description, '')",
	"p.status", "p.capacity", "p.start_date", "p.end_date", "p.created_at",
}

func scanProgram(row pgx.Row) (models.Program, error) {
	var (
		p  models.Program
		cb userRef
	)
	targets := []any{
		&p.ID, &p.TenantID, &p.CreatedByID, &p.Name, &p.Description,
		&p.Status, &p.Capacity, &p.StartDate, &p.EndDate, &p.CreatedAt,
	}
	if err := row.Scan(append(targets, cb.targets()...)...); err != nil {
		return p, err
	}
	p.CreatedBy = cb.summary()
	return p, nil
}

func programListQuery(tenantID int) squirrel.SelectBuilder {
	return OptimizeProgramQuery(psql.Select(programColumns...).From("programs p")).
		Where(squirrel.Eq{"p.tenant_id": tenantID}).
		OrderBy("p.name", "p.id")
}

func (db *DB) ListPrograms(ctx context.Context, tenantID int) ([]models.Program, error) {
	query, args, err := programListQuery(tenantID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("db: build program list: %w", err)
	}
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db: list programs: %w", err)
	}
	defer rows.Close()

	programs := []models.Program{}
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, fmt.Errorf("db: scan program: %w", err)
		}
		programs = append(programs, p)
	}
	return programs, rows.Err()
}

func (db *DB) GetProgram(ctx context.Context, tenantID, id int) (*models.Program, error) {
	query, args, err := programListQuery(tenantID).Where(squirrel.Eq{"p.id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("db: build program get: %w", err)
	}
	p, err := scanProgram(db.Pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: get program %d: %w", id, err)
	}
	return &p, nil
}

func appointmentListQuery(tenantID, beneficiaryID int) squirrel.SelectBuilder {
	return OptimizeAppointmentQuery(psql.Select(
		"a.id", "a.beneficiary_id", "a.trainer_id", "a.title", "a.status",
		"a.scheduled_at", "a.duration_minutes", "COALESCE(a.location, '')",
	).From("appointments a").Join("beneficiaries b ON b.id = a.beneficiary_id")).
		Where(squirrel.Eq{"a.beneficiary_id": beneficiaryID, "b.tenant_id": tenantID}).
		OrderBy("a.scheduled_at DESC")
}

func (db *DB) ListAppointments(ctx context.Context, tenantID, beneficiaryID int) ([]models.Appointment, error) {
	query, args, err := appointmentListQuery(tenantID, beneficiaryID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("db: build appointment list: %w", err)
	}
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db: list appointments: %w", err)
	}
	defer rows.Close()

	appointments := []models.Appointment{}
	for rows.Next() {
		var (
			a  models.Appointment
			tr userRef
		)
		targets := []any{&a.ID, &a.BeneficiaryID, &a.TrainerID, &a.Title, &a.Status, &a.ScheduledAt, &a.DurationMinutes, &a.Location}
		if err := rows.Scan(append(targets, tr.targets()...)...); err != nil {
			return nil, fmt.Errorf("db: scan appointment: %w", err)
		}
		a.Trainer = tr.summary()
		appointments = append(appointments, a)
	}
	return appointments, rows.Err()
}

func evaluationListQuery(tenantID, beneficiaryID int) squirrel.SelectBuilder {
	return OptimizeEvaluationQuery(psql.Select(
		"e.id", "e.beneficiary_id", "e.evaluator_id", "e.title", "e.status", "e.score", "e.evaluated_at",
	).From("evaluations e").Join("beneficiaries b ON b.id = e.beneficiary_id")).
		Where(squirrel.Eq{"e.beneficiary_id": beneficiaryID, "b.tenant_id": tenantID}).
		OrderBy("e.evaluated_at DESC NULLS LAST", "e.id")
}

func (db *DB) ListEvaluations(ctx context.Context, tenantID, beneficiaryID int) ([]models.Evaluation, error) {
	query, args, err := evaluationListQuery(tenantID, beneficiaryID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("db: build evaluation list: %w", err)
	}
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db: list evaluations: %w", err)
	}
	defer rows.Close()

	evaluations := []models.Evaluation{}
	for rows.Next() {
		var (
			e  models.Evaluation
			ev userRef
		)
		targets := []any{&e.ID, &e.BeneficiaryID, &e.EvaluatorID, &e.Title, &e.Status, &e.Score, &e.EvaluatedAt}
		if err := rows.Scan(append(targets, ev.targets()...)...); err != nil {
			return nil, fmt.Errorf("db: scan evaluation: %w", err)
		}
		e.Evaluator = ev.summary()
		evaluations = append(evaluations, e)
	}
	return evaluations, rows.Err()
}

func userByEmailQuery(email string) squirrel.SelectBuilder {
	return OptimizeUserQuery(psql.Select(
		"u.id", "u.tenant_id", "u.email", "u.password_hash", "u.first_name", "u.last_name",
		"u.role", "u.is_active", "u.created_at",
	).From("users u")).Where(squirrel.Eq{"u.email": email})
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query, args, err := userByEmailQuery(email).ToSql()
	if err != nil {
		return nil, fmt.Errorf("db: build user get: %w", err)
	}

	var (
		user       models.User
		tenantName *string
	)
	err = db.Pool.QueryRow(ctx, query, args...).Scan(
		&user.ID,
		&user.TenantID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Role,
		&user.IsActive,
		&user.CreatedAt,
		&tenantName,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: get user: %w", err)
	}
	if tenantName != nil {
		user.TenantName = *tenantName
	}

	return &user, nil
}

func (db *DB) LogAccess(ctx context.Context, log *models.AccessLog) error {
	query := `
        INSERT INTO access_logs (tenant_id, user_id, endpoint, method, status_code, response_time_ms, request_size, response_size, cache_status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
    `

	_, err := db.Pool.Exec(ctx, query,
		log.TenantID,
		log.UserID,
		log.Endpoint,
		log.Method,
		log.StatusCode,
		log.ResponseTimeMs,
		log.RequestSize,
		log.ResponseSize,
		log.CacheStatus,
	)

	return err
}
