package db

import (
	"github.com/Masterminds/squirrel"
)

// psql builds Postgres statements with $n placeholders.
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// JoinedRelation is loaded in the same statement through a LEFT JOIN.
type JoinedRelation struct {
	Name    string
	Join    string
	Columns []string
}

// BatchedRelation is loaded by one extra statement for all parent ids at once.
// ParentKey is the column holding the parent id; it is selected first.
type BatchedRelation struct {
	Name      string
	From      string
	Join      string
	ParentKey string
	Columns   []string
	OrderBy   string
}

// Plan lists how the relations of an entity are loaded so that a page of
// records costs a fixed number of statements.
type Plan struct {
	Entity  string
	Joined  []JoinedRelation
	Batched []BatchedRelation
}

// Apply adds the joined relations to q. It does not mutate q.
func (p Plan) Apply(q squirrel.SelectBuilder) squirrel.SelectBuilder {
	for _, rel := range p.Joined {
		q = q.Columns(rel.Columns...).LeftJoin(rel.Join)
	}
	return q
}

// Batch returns the secondary statement that loads relation name for the given parents.
func (p Plan) Batch(name string, parentIDs []int) (squirrel.SelectBuilder, bool) {
	for _, rel := range p.Batched {
		if rel.Name != name {
			continue
		}
		q := psql.Select(rel.ParentKey).Columns(rel.Columns...).From(rel.From)
		if rel.Join != "" {
			q = q.Join(rel.Join)
		}
		q = q.Where(rel.ParentKey+" = ANY(?)", parentIDs)
		if rel.OrderBy != "" {
			q = q.OrderBy(rel.OrderBy)
		}
		return q, true
	}
	return squirrel.SelectBuilder{}, false
}

var caseworkerColumns = []string{"cw.id", "cw.first_name", "cw.last_name", "cw.email"}

var BeneficiaryPlan = Plan{
	Entity: "beneficiary",
	Joined: []JoinedRelation{{
		Name:    "caseworker",
		Join:    "users cw ON cw.id = b.caseworker_id",
		Columns: caseworkerColumns,
	}},
	Batched: []BatchedRelation{{
		Name:      "programs",
		From:      "program_enrollments pe",
		Join:      "programs p ON p.id = pe.program_id",
		ParentKey: "pe.beneficiary_id",
		Columns:   []string{"p.id", "p.name", "p.status"},
		OrderBy:   "p.name",
	}},
}

var ProgramPlan = Plan{
	Entity: "program",
	Joined: []JoinedRelation{{
		Name:    "created_by",
		Join:    "users cb ON cb.id = p.created_by_id",
		Columns: []string{"cb.id", "cb.first_name", "cb.last_name", "cb.email"},
	}},
}

var AppointmentPlan = Plan{
	Entity: "appointment",
	Joined: []JoinedRelation{{
		Name:    "trainer",
		Join:    "users tr ON tr.id = a.trainer_id",
		Columns: []string{"tr.id", "tr.first_name", "tr.last_name", "tr.email"},
	}},
}

var EvaluationPlan = Plan{
	Entity: "evaluation",
	Joined: []JoinedRelation{{
		Name:    "evaluator",
		Join:    "users ev ON ev.id = e.evaluator_id",
		Columns: []string{"ev.id", "ev.first_name", "ev.last_name", "ev.email"},
	}},
}

var UserPlan = Plan{
	Entity: "user",
	Joined: []JoinedRelation{{
		Name:    "tenant",
		Join:    "tenants t ON t.id = u.tenant_id",
		Columns: []string{"t.name"},
	}},
}

func OptimizeBeneficiaryQuery(q squirrel.SelectBuilder) squirrel.SelectBuilder {
	return BeneficiaryPlan.Apply(q)
}

func OptimizeProgramQuery(q squirrel.SelectBuilder) squirrel.SelectBuilder {
	return ProgramPlan.Apply(q)
}

func OptimizeAppointmentQuery(q squirrel.SelectBuilder) squirrel.SelectBuilder {
	return AppointmentPlan.Apply(q)
}

func OptimizeEvaluationQuery(q squirrel.SelectBuilder) squirrel.SelectBuilder {
	return EvaluationPlan.Apply(q)
}

func OptimizeUserQuery(q squirrel.SelectBuilder) squirrel.SelectBuilder {
	return UserPlan.Apply(q)
}
