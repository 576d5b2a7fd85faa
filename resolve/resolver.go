/*
Package resolve maps a free-text person reference to users in the directory.

ALGORITHM (first success wins):
  1. Alias of the initiator (optional). Aliases are trusted: always Exact.
  2. Username, compared case-insensitively.
  3. Name search. With two or more words: first name starts with the first
     word AND last name contains the last word, OR "first last" starts with
     the whole reference. If that finds nobody, a broad prefix search over
     first name, last name and "first last".
  4. 0 candidates -> NotFound, 1 -> Exact, more -> Ambiguous.

Resolution never writes.
*/
package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/debt-engine/ledger"
)

type Kind int

const (
	NotFound Kind = iota
	Exact
	Ambiguous
)

func (k Kind) String() string {
	switch k {
	case Exact:
		return "exact"
	case Ambiguous:
		return "ambiguous"
	default:
		return "not_found"
	}
}

// Result of a resolution. User is set for Exact; Candidates (two or more,
// in directory order) for Ambiguous.
type Result struct {
	Kind       Kind
	User       ledger.User
	Candidates []ledger.User
}

// Source tells how an Exact result was reached. Useful in logs.
type Source string

const (
	SourceAlias    Source = "alias"
	SourceUsername Source = "username"
	SourceSearch   Source = "search"
)

// Lookup is the slice of ledger.Store the resolver reads.
type Lookup interface {
	ledger.Directory
	GetAlias(ctx context.Context, owner ledger.UserID, text string) (*ledger.Alias, error)
}

type Resolver struct {
	Store Lookup
}

func New(store Lookup) *Resolver {
	return &Resolver{Store: store}
}

// Resolve looks reference up on behalf of initiator.
func (r *Resolver) Resolve(ctx context.Context, initiator ledger.UserID, reference string, useAlias bool) (Result, error) {
	res, _, err := r.ResolveWithSource(ctx, initiator, reference, useAlias)
	return res, err
}

// ResolveWithSource is Resolve that also reports which step decided.
func (r *Resolver) ResolveWithSource(ctx context.Context, initiator ledger.UserID, reference string, useAlias bool) (Result, Source, error) {
	ref := strings.Join(strings.Fields(strings.TrimPrefix(strings.TrimSpace(reference), "@")), " ")
	if ref == "" {
		return Result{Kind: NotFound}, "", nil
	}

	if useAlias {
		alias, err := r.Store.GetAlias(ctx, initiator, ref)
		if err != nil {
			return Result{}, "", fmt.Errorf("alias lookup: %w", err)
		}
		if alias != nil {
			target, err := r.Store.GetUser(ctx, alias.TargetID)
			if err != nil {
				return Result{}, "", fmt.Errorf("alias target lookup: %w", err)
			}
			if target == nil {
				target = &ledger.User{ID: alias.TargetID}
			}
			return Result{Kind: Exact, User: *target}, SourceAlias, nil
		}
	}

	u, err := r.Store.FindByUsername(ctx, ledger.Fold(ref))
	if err != nil {
		return Result{}, "", fmt.Errorf("username lookup: %w", err)
	}
	if u != nil {
		return Result{Kind: Exact, User: *u}, SourceUsername, nil
	}

	candidates, err := r.search(ctx, ref)
	if err != nil {
		return Result{}, "", err
	}
	switch len(candidates) {
	case 0:
		return Result{Kind: NotFound}, "", nil
	case 1:
		return Result{Kind: Exact, User: candidates[0]}, SourceSearch, nil
	default:
		return Result{Kind: Ambiguous, Candidates: candidates}, SourceSearch, nil
	}
}

func (r *Resolver) search(ctx context.Context, ref string) ([]ledger.User, error) {
	if tokens := strings.Fields(ref); len(tokens) >= 2 {
		found, err := r.Store.SearchByNameParts(ctx, tokens[0], tokens[len(tokens)-1], ref)
		if err != nil {
			return nil, fmt.Errorf("name search: %w", err)
		}
		if len(found) > 0 {
			return found, nil
		}
	}
	found, err := r.Store.SearchByPrefix(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("prefix search: %w", err)
	}
	return found, nil
}
