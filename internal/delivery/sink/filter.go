package sink

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// Filter defines the criteria a record must meet to reach a sink.
// All non-empty fields must match (AND logic). Empty fields act as
// wildcards, and a criterion only applies to kinds that carry the field.
type Filter struct {
	// Accounts matches account updates by pubkey and transactions by any
	// referenced account key.
	Accounts []solana.PublicKey

	// Owners matches account updates by owning program.
	Owners []solana.PublicKey

	// Signatures matches transactions.
	Signatures []solana.Signature

	// SkipVotes drops vote transactions.
	SkipVotes bool

	// MinSlot drops every record below this slot.
	MinSlot uint64
}

// ParseFilter builds a Filter from base58 strings.
func ParseFilter(accounts, owners, signatures []string, skipVotes bool, minSlot uint64) (Filter, error) {
	f := Filter{SkipVotes: skipVotes, MinSlot: minSlot}
	for _, a := range accounts {
		pk, err := solana.PublicKeyFromBase58(a)
		if err != nil {
			return Filter{}, fmt.Errorf("account %q: %w", a, err)
		}
		f.Accounts = append(f.Accounts, pk)
	}
	for _, o := range owners {
		pk, err := solana.PublicKeyFromBase58(o)
		if err != nil {
			return Filter{}, fmt.Errorf("owner %q: %w", o, err)
		}
		f.Owners = append(f.Owners, pk)
	}
	for _, s := range signatures {
		sig, err := solana.SignatureFromBase58(s)
		if err != nil {
			return Filter{}, fmt.Errorf("signature %q: %w", s, err)
		}
		f.Signatures = append(f.Signatures, sig)
	}
	return f, nil
}

// Empty reports whether the filter matches everything.
func (f Filter) Empty() bool {
	return len(f.Accounts) == 0 && len(f.Owners) == 0 && len(f.Signatures) == 0 &&
		!f.SkipVotes && f.MinSlot == 0
}

// Matches checks if the filter matches the given record.
func (f Filter) Matches(rec protov1.Record) bool {
	if rec.Slot() < f.MinSlot {
		return false
	}

	switch v := rec.(type) {
	case *protov1.AccountUpdate:
		if len(f.Accounts) > 0 && !containsKey(f.Accounts, v.Pubkey) {
			return false
		}
		if len(f.Owners) > 0 && !containsKey(f.Owners, v.Owner) {
			return false
		}
	case *protov1.TransactionRecord:
		if f.SkipVotes && v.IsVote {
			return false
		}
		if len(f.Signatures) > 0 {
			found := false
			for _, s := range f.Signatures {
				if s.Equals(v.Signature) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		if len(f.Accounts) > 0 {
			if v.Transaction == nil {
				return false
			}
			found := false
			for _, k := range v.Transaction.Message.AccountKeys {
				if containsKey(f.Accounts, k) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func containsKey(keys []solana.PublicKey, k solana.PublicKey) bool {
	for _, c := range keys {
		if c.Equals(k) {
			return true
		}
	}
	return false
}

// Filtered forwards only records matching its filter. Non-matching records
// are counted by the caller as filtered, not failed.
type Filtered struct {
	inner  Sink
	filter Filter
}

func NewFiltered(inner Sink, filter Filter) *Filtered {
	return &Filtered{inner: inner, filter: filter}
}

func (f *Filtered) Name() string { return f.inner.Name() }

// Accepts reports whether rec would be forwarded.
func (f *Filtered) Accepts(rec protov1.Record) bool { return f.filter.Matches(rec) }

func (f *Filtered) Observe(ctx context.Context, rec protov1.Record) error {
	if !f.filter.Matches(rec) {
		return nil
	}
	return f.inner.Observe(ctx, rec)
}

func (f *Filtered) Provision(ctx context.Context) error { return Provision(ctx, f.inner) }

func (f *Filtered) Close(ctx context.Context) error { return f.inner.Close(ctx) }
