package identity

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/identity-cli/internal/phone"
	"github.com/sells-group/identity-cli/internal/resilience"
)

// MatchPriority decides which key wins when phone and email point at
// different identities.
type MatchPriority string

// Supported match priorities.
const (
	MatchPhone MatchPriority = "phone"
	MatchEmail MatchPriority = "email"
)

const defaultPageSize = 500

var errAlreadyLinked = eris.New("identity: record linked concurrently")

// Options configures a Linker.
type Options struct {
	MatchPriority MatchPriority
	PageSize      int
	Phone         *phone.Normalizer
	Retry         resilience.RetryConfig
}

// KindReport counts linker outcomes for one record kind.
type KindReport struct {
	Scanned      int `json:"scanned" yaml:"scanned"`
	Linked       int `json:"linked" yaml:"linked"`
	Created      int `json:"created" yaml:"created"`
	MatchedPhone int `json:"matched_phone" yaml:"matched_phone"`
	MatchedEmail int `json:"matched_email" yaml:"matched_email"`
	Enriched     int `json:"enriched" yaml:"enriched"`
	Conflicts    int `json:"conflicts" yaml:"conflicts"`
	Ambiguous    int `json:"ambiguous" yaml:"ambiguous"`
	Skipped      int `json:"skipped" yaml:"skipped"`
	Failed       int `json:"failed" yaml:"failed"`
}

// LinkReport is the result of a full linking pass.
type LinkReport struct {
	Accounts  KindReport `json:"accounts" yaml:"accounts"`
	Customers KindReport `json:"customers" yaml:"customers"`
	Promoters KindReport `json:"promoters" yaml:"promoters"`
}

// For returns the report for kind.
func (r *LinkReport) For(kind Kind) *KindReport {
	switch kind {
	case KindCustomer:
		return &r.Customers
	case KindPromoter:
		return &r.Promoters
	default:
		return &r.Accounts
	}
}

// Linker attaches every unlinked per-context record to an Identity.
type Linker struct {
	store Store
	opts  Options
}

// NewLinker creates a Linker with defaults applied to opts.
func NewLinker(store Store, opts Options) *Linker {
	if opts.MatchPriority == "" {
		opts.MatchPriority = MatchPhone
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Phone == nil {
		opts.Phone = phone.New(phone.DefaultCountryCode)
	}
	return &Linker{store: store, opts: opts}
}

// LinkAll links accounts, then customer profiles, then promoter profiles.
// Records are processed one at a time, oldest first, so a record can match
// an identity created earlier in the same pass. A failing record is logged,
// counted and left unlinked for the next run.
func (l *Linker) LinkAll(ctx context.Context) (*LinkReport, error) {
	r := &LinkReport{}
	if err := linkKind(ctx, l, KindAccount, l.store.UnlinkedAccounts, r.For(KindAccount)); err != nil {
		return r, err
	}
	if err := linkKind(ctx, l, KindCustomer, l.store.UnlinkedCustomers, r.For(KindCustomer)); err != nil {
		return r, err
	}
	if err := linkKind(ctx, l, KindPromoter, l.store.UnlinkedPromoters, r.For(KindPromoter)); err != nil {
		return r, err
	}
	return r, nil
}

type lister[T Record] func(ctx context.Context, after Cursor, limit int) ([]T, error)

func linkKind[T Record](ctx context.Context, l *Linker, kind Kind, list lister[T], rep *KindReport) error {
	log := zap.L().With(zap.String("component", "linker"), zap.String("kind", string(kind)))

	var cur Cursor
	for {
		var page []T
		err := resilience.Do(ctx, l.retryConfig("list "+kind.Table()), func(ctx context.Context) error {
			var err error
			page, err = list(ctx, cur, l.opts.PageSize)
			return err
		})
		if err != nil {
			return eris.Wrapf(err, "identity: list unlinked %s", kind.Table())
		}

		for _, rec := range page {
			if err := ctx.Err(); err != nil {
				return eris.Wrap(err, "identity: link interrupted")
			}
			rep.Scanned++
			out, err := l.linkOne(ctx, kind, rec)
			switch {
			case eris.Is(err, errAlreadyLinked):
				rep.Skipped++
				continue
			case err != nil:
				rep.Failed++
				log.Warn("link failed", zap.String("record_id", rec.RecordID()), zap.Error(err))
				continue
			}
			out.apply(rep)
		}

		if len(page) < l.opts.PageSize {
			log.Info("link pass complete",
				zap.Int("scanned", rep.Scanned),
				zap.Int("linked", rep.Linked),
				zap.Int("created", rep.Created),
				zap.Int("failed", rep.Failed),
			)
			return nil
		}
		cur = After(page[len(page)-1])
	}
}

type matchKind int

const (
	matchNone matchKind = iota
	matchPhone
	matchEmail
)

type outcome struct {
	identityID string
	match      matchKind
	created    bool
	enriched   bool
	conflicts  int
	ambiguous  bool
}

func (o outcome) apply(r *KindReport) {
	r.Linked++
	switch o.match {
	case matchPhone:
		r.MatchedPhone++
	case matchEmail:
		r.MatchedEmail++
	}
	if o.created {
		r.Created++
	}
	if o.enriched {
		r.Enriched++
	}
	if o.ambiguous {
		r.Ambiguous++
	}
	r.Conflicts += o.conflicts
}

// linkOne resolves, creates or enriches, and links a single record inside
// one transaction.
func (l *Linker) linkOne(ctx context.Context, kind Kind, rec Record) (outcome, error) {
	attrs := rec.Attributes()
	if n := l.opts.Phone.Normalize(rec.RawPhone()); n != "" {
		attrs.PhoneNormalized = &n
	}

	var out outcome
	err := resilience.Do(ctx, l.retryConfig("link "+rec.RecordID()), func(ctx context.Context) error {
		out = outcome{}
		return l.store.WithTx(ctx, func(ctx context.Context, s Store) error {
			ident, match, ambiguous, err := l.resolve(ctx, s, attrs)
			if err != nil {
				return err
			}
			out.match, out.ambiguous = match, ambiguous

			if ident == nil {
				ident = &Identity{ID: uuid.NewString()}
				Enrich(ident, attrs)
				if err := s.CreateIdentity(ctx, ident); err != nil {
					return err
				}
				out.created = true
			} else {
				e := Enrich(ident, attrs)
				out.conflicts = len(e.Conflicts)
				if len(e.Conflicts) > 0 {
					zap.L().Debug("enrichment conflict, keeping identity value",
						zap.String("identity_id", ident.ID),
						zap.String("record_id", rec.RecordID()),
						zap.Strings("fields", e.Conflicts),
					)
				}
				if e.Changed() {
					if err := s.FillIdentity(ctx, ident); err != nil {
						return err
					}
					out.enriched = true
				}
			}

			ok, err := s.LinkRecord(ctx, kind, rec.RecordID(), ident.ID)
			if err != nil {
				return err
			}
			if !ok {
				return errAlreadyLinked
			}
			out.identityID = ident.ID
			return nil
		})
	})
	return out, err
}

// resolve looks up the identity for attrs by phone and by email. Both keys
// are always consulted so disagreements can be reported.
func (l *Linker) resolve(ctx context.Context, s Store, attrs Attributes) (*Identity, matchKind, bool, error) {
	var byPhone, byEmail *Identity
	var err error
	if attrs.PhoneNormalized != nil {
		if byPhone, err = s.FindByPhone(ctx, *attrs.PhoneNormalized); err != nil {
			return nil, matchNone, false, err
		}
	}
	if email := emailLookup(deref(attrs.Email)); email != "" {
		if byEmail, err = s.FindByEmail(ctx, email); err != nil {
			return nil, matchNone, false, err
		}
	}

	ambiguous := byPhone != nil && byEmail != nil && byPhone.ID != byEmail.ID
	first, firstKind, second, secondKind := byPhone, matchPhone, byEmail, matchEmail
	if l.opts.MatchPriority == MatchEmail {
		first, firstKind, second, secondKind = byEmail, matchEmail, byPhone, matchPhone
	}
	if ambiguous {
		zap.L().Warn("ambiguous identity match",
			zap.String("phone_identity", byPhone.ID),
			zap.String("email_identity", byEmail.ID),
			zap.String("chosen", first.ID),
			zap.String("priority", string(l.opts.MatchPriority)),
		)
	}

	switch {
	case first != nil:
		return first, firstKind, ambiguous, nil
	case second != nil:
		return second, secondKind, ambiguous, nil
	default:
		return nil, matchNone, false, nil
	}
}

func (l *Linker) retryConfig(op string) resilience.RetryConfig {
	cfg := l.opts.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(op)
	}
	return cfg
}
