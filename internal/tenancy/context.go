package tenancy

import "context"

type ctxKey string

const (
	clinicKey   ctxKey = "vetcare.clinic_id"
	operatorKey ctxKey = "vetcare.operator_id"
)

// WithClinicID stores the clinic the request is scoped to.
func WithClinicID(ctx context.Context, clinicID string) context.Context {
	return context.WithValue(ctx, clinicKey, clinicID)
}

// ClinicIDFromContext extracts the clinic id if present.
func ClinicIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, clinicKey)
}

// WithOperatorID stores the authenticated operator.
func WithOperatorID(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, operatorKey, operatorID)
}

// OperatorIDFromContext extracts the operator id if present.
func OperatorIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, operatorKey)
}

func stringValue(ctx context.Context, key ctxKey) (string, bool) {
	val := ctx.Value(key)
	if val == nil {
		return "", false
	}
	s, ok := val.(string)
	return s, ok && s != ""
}
