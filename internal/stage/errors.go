package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTransientNetwork = errors.New("transient network error")
	ErrPermanentFetch   = errors.New("permanent fetch error")
	ErrParse            = errors.New("parse error")
	ErrConversion       = errors.New("conversion error")
	ErrPersistence      = errors.New("persistence error")
	ErrEnvironment      = errors.New("environment error")
)

// Kind names an error class for reports, metrics labels, and the ledger.
type Kind string

const (
	KindNone             Kind = ""
	KindTransientNetwork Kind = "transient_network"
	KindPermanentFetch   Kind = "permanent_fetch"
	KindParse            Kind = "parse"
	KindConversion       Kind = "conversion"
	KindPersistence      Kind = "persistence"
	KindEnvironment      Kind = "environment"
	KindCanceled         Kind = "canceled"
	KindUnknown          Kind = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrPersistence
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf classifies err by the sentinel marker it carries.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrTransientNetwork):
		return KindTransientNetwork
	case errors.Is(err, ErrPermanentFetch):
		return KindPermanentFetch
	case errors.Is(err, ErrParse):
		return KindParse
	case errors.Is(err, ErrConversion):
		return KindConversion
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	case errors.Is(err, ErrEnvironment):
		return KindEnvironment
	default:
		return KindUnknown
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
