package supervisor

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/hellocng/deepstack-sub002/common/models"
)

// ExpiryPolicy decides whether a notified entry has waited too long.
// The expression sees `entry` (the entry as a map), `ageSeconds` (time since
// the player was notified) and `ttlSeconds`, and must return a bool.
type ExpiryPolicy struct {
	expr string
	prg  cel.Program
	ttl  time.Duration
}

// NewExpiryPolicy compiles expr once
func NewExpiryPolicy(expr string, ttl time.Duration) (*ExpiryPolicy, error) {
	prg, err := compilePolicy(expr)
	if err != nil {
		return nil, err
	}

	return &ExpiryPolicy{
		expr: expr,
		prg:  prg,
		ttl:  ttl,
	}, nil
}

// Expression returns the source expression
func (p *ExpiryPolicy) Expression() string {
	return p.expr
}

// Expired evaluates the policy for entry at now
func (p *ExpiryPolicy) Expired(entry *models.WaitlistEntry, now time.Time) (bool, error) {
	out, _, err := p.prg.Eval(map[string]interface{}{
		"entry":      entryVars(entry),
		"ageSeconds": int64(now.Sub(notifiedSince(entry)) / time.Second),
		"ttlSeconds": int64(p.ttl / time.Second),
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean, got %T", out.Value())
	}

	return result, nil
}

func compilePolicy(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("entry", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("ageSeconds", cel.IntType),
		cel.Variable("ttlSeconds", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expiry policy must return bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return prg, nil
}

func notifiedSince(entry *models.WaitlistEntry) time.Time {
	if entry.NotifiedAt != nil {
		return *entry.NotifiedAt
	}
	return entry.UpdatedAt
}

func entryVars(entry *models.WaitlistEntry) map[string]interface{} {
	return map[string]interface{}{
		"id":         entry.ID,
		"roomId":     entry.RoomID,
		"gameId":     entry.GameID,
		"playerId":   entry.PlayerID,
		"position":   int64(entry.Position),
		"status":     string(entry.Status),
		"calledIn":   entry.CalledInAt != nil,
		"createdAt":  entry.CreatedAt,
		"notifiedAt": notifiedSince(entry),
	}
}
