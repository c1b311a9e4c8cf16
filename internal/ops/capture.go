package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/evidence"
	"github.com/hpungsan/custody/internal/session"
)

// CaptureInput contains parameters for the Capture operation.
type CaptureInput struct {
	Subject    string // required: sealed, content, object or reconditioned
	RemotePath string // optional; newest photo on the device when empty
	Retry      string // optional identifier of a Failed capture being replaced
}

// Capture takes one photograph under the session's active context.
func Capture(ctx context.Context, sess *session.Session, input CaptureInput) (*session.CaptureResult, error) {
	if sess == nil {
		return nil, errors.NewInvalidState("capture", session.Idle.String())
	}
	subject, err := evidence.ParseSubject(input.Subject)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return sess.Capture(ctx, session.CaptureRequest{
		Subject:    subject,
		RemotePath: strings.TrimSpace(input.RemotePath),
		Retry:      strings.TrimSpace(input.Retry),
	})
}

// SelectInput contains parameters for the Select operation.
type SelectInput struct {
	CaseRef string // required
	Seal    string // optional
	Object  string // optional, requires Seal
}

// Select normalizes the references and sets the session context.
func Select(ctx context.Context, sess *session.Session, input SelectInput) (*evidence.Context, error) {
	caseRef, err := normalizeRef("case reference", input.CaseRef)
	if err != nil {
		return nil, err
	}
	sel := session.Selection{CaseRef: caseRef}
	if strings.TrimSpace(input.Seal) != "" {
		if sel.Seal, err = normalizeRef("seal number", input.Seal); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(input.Object) != "" {
		if sel.Object, err = normalizeLetter(input.Object); err != nil {
			return nil, err
		}
	}
	c, err := sess.SetContext(ctx, sel)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
