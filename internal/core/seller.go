package core

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
)

// Scope is the resolved seller identity constraining which dataset rows a
// request may see. A nil *Scope means unscoped (administrative) access and
// is only ever produced from an explicitly empty identifier, never from a
// resolver failure.
type Scope struct {
	Raw  string
	Name string
}

// SellerDirectory is the lookup surface the resolver needs from the store.
type SellerDirectory interface {
	SellerNameByCode(ctx context.Context, code int) (string, bool, error)
}

type SellerResolver struct {
	directory SellerDirectory
	log       *slog.Logger
}

func NewSellerResolver(directory SellerDirectory, log *slog.Logger) *SellerResolver {
	return &SellerResolver{directory: directory, log: log}
}

// Resolve maps a caller-supplied identifier to the canonical seller display
// name. Numeric codes are looked up in the directory; a miss keeps the raw
// identifier as the scope value (with a warning) so access never widens.
// Textual identifiers are assumed canonical. It never fails the caller.
func (r *SellerResolver) Resolve(ctx context.Context, identifier string) *Scope {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return nil
	}

	code, err := strconv.Atoi(id)
	if err != nil {
		return &Scope{Raw: id, Name: id}
	}

	name, found, err := r.directory.SellerNameByCode(ctx, code)
	if err != nil {
		r.log.Warn("seller directory lookup failed, keeping raw identifier as scope", "code", code, "error", err)
		return &Scope{Raw: id, Name: id}
	}
	if !found {
		r.log.Warn("seller code not in directory, keeping raw identifier as scope", "code", code)
		return &Scope{Raw: id, Name: id}
	}
	return &Scope{Raw: id, Name: name}
}
