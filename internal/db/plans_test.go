package db

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/HanTheDev/beneficiary-center/internal/models"
)

func TestOptimizeQueriesAddJoinedRelations(t *testing.T) {
	tests := []struct {
		name     string
		optimize func() (string, error)
		want     string
	}{
		{
			name: "beneficiary",
			optimize: func() (string, error) {
				sql, _, err := OptimizeBeneficiaryQuery(psql.Select("b.id").From("beneficiaries b")).ToSql()
				return sql, err
			},
			want: "SELECT b.id, cw.id, cw.first_name, cw.last_name, cw.email FROM beneficiaries b LEFT JOIN users cw ON cw.id = b.caseworker_id",
		},
		{
			name: "program",
			optimize: func() (string, error) {
				sql, _, err := OptimizeProgramQuery(psql.Select("p.id").From("programs p")).ToSql()
				return sql, err
			},
			want: "SELECT p.id, cb.id, cb.first_name, cb.last_name, cb.email FROM programs p LEFT JOIN users cb ON cb.id = p.created_by_id",
		},
		{
			name: "appointment",
			optimize: func() (string, error) {
				sql, _, err := OptimizeAppointmentQuery(psql.Select("a.id").From("appointments a")).ToSql()
				return sql, err
			},
			want: "SELECT a.id, tr.id, tr.first_name, tr.last_name, tr.email FROM appointments a LEFT JOIN users tr ON tr.id = a.trainer_id",
		},
		{
			name: "evaluation",
			optimize: func() (string, error) {
				sql, _, err := OptimizeEvaluationQuery(psql.Select("e.id").From("evaluations e")).ToSql()
				return sql, err
			},
			want: "SELECT e.id, ev.id, ev.first_name, ev.last_name, ev.email FROM evaluations e LEFT JOIN users ev ON ev.id = e.evaluator_id",
		},
		{
			name: "user",
			optimize: func() (string, error) {
				sql, _, err := OptimizeUserQuery(psql.Select("u.id").From("users u")).ToSql()
				return sql, err
			},
			want: "SELECT u.id, t.name FROM users u LEFT JOIN tenants t ON t.id = u.tenant_id",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sql, err := tc.optimize()
			require.NoError(t, err)
			require.Equal(t, tc.want, sql)
		})
	}
}

func TestApplyLeavesInputUntouched(t *testing.T) {
	base := psql.Select("b.id").From("beneficiaries b")
	_ = OptimizeBeneficiaryQuery(base)
	sql, _, err := base.ToSql()
	require.NoError(t, err)
	require.Equal(t, "SELECT b.id FROM beneficiaries b", sql)
}

func TestBatchLoadsAllParentsInOneStatement(t *testing.T) {
	stmt, ok := BeneficiaryPlan.Batch("programs", []int{3, 5, 8})
	require.True(t, ok)
	sql, args, err := stmt.ToSql()
	require.NoError(t, err)
	require.Equal(t,
		"SELECT pe.beneficiary_id, p.id, p.name, p.status FROM program_enrollments pe "+
			"JOIN programs p ON p.id = pe.program_id WHERE pe.beneficiary_id = ANY($1) ORDER BY p.name",
		sql)
	require.Equal(t, []any{[]int{3, 5, 8}}, args)

	_, ok = BeneficiaryPlan.Batch("appointments", nil)
	require.False(t, ok)
}

func TestBeneficiaryListQuery(t *testing.T) {
	sql, args, err := beneficiaryListQuery(models.BeneficiaryFilter{
		TenantID: 4,
		Status:   "active",
		Search:   "ada",
		Page:     2,
		PerPage:  10,
	}).ToSql()
	require.NoError(t, err)
	require.Contains(t, sql, "LEFT JOIN users cw ON cw.id = b.caseworker_id")
	require.Contains(t, sql, "WHERE (b.tenant_id = $1 AND b.status = $2 AND (b.first_name ILIKE $3 OR b.last_name ILIKE $4 OR b.email ILIKE $5))")
	require.Contains(t, sql, "ORDER BY b.last_name, b.first_name, b.id LIMIT 10 OFFSET 10")
	require.Equal(t, []any{4, "active", "%ada%", "%ada%", "%ada%"}, args)
}

func TestBeneficiaryListQueryClampsPaging(t *testing.T) {
	sql, _, err := beneficiaryListQuery(models.BeneficiaryFilter{TenantID: 1, Page: -3, PerPage: 5000}).ToSql()
	require.NoError(t, err)
	require.Contains(t, sql, "LIMIT 100 OFFSET 0")

	count, args, err := beneficiaryCountQuery(models.BeneficiaryFilter{TenantID: 1}).ToSql()
	require.NoError(t, err)
	require.Equal(t, "SELECT COUNT(*) FROM beneficiaries b WHERE (b.tenant_id = $1)", count)
	require.Equal(t, []any{1}, args)
}

func TestScopedListQueries(t *testing.T) {
	sql, args, err := appointmentListQuery(2, 9).ToSql()
	require.NoError(t, err)
	require.Contains(t, sql, "JOIN beneficiaries b ON b.id = a.beneficiary_id LEFT JOIN users tr ON tr.id = a.trainer_id")
	require.Contains(t, sql, "WHERE a.beneficiary_id = $1 AND b.tenant_id = $2")
	require.Equal(t, []any{9, 2}, args)

	sql, args, err = evaluationListQuery(2, 9).ToSql()
	require.NoError(t, err)
	require.Contains(t, sql, "LEFT JOIN users ev ON ev.id = e.evaluator_id")
	require.Equal(t, []any{9, 2}, args)

	sql, args, err = programListQuery(2).Where("p.id = ?", 7).ToSql()
	require.NoError(t, err)
	require.Contains(t, sql, "WHERE p.tenant_id = $1 AND p.id = $2")
	require.Equal(t, []any{2, 7}, args)

	sql, args, err = userByEmailQuery("ada@example.com").ToSql()
	require.NoError(t, err)
	require.Contains(t, sql, "LEFT JOIN tenants t ON t.id = u.tenant_id WHERE u.email = $1")
	require.Equal(t, []any{"ada@example.com"}, args)
}
