// Package transfer implements the funds-transfer engine: a staged builder
// producing immutable transfer requests and the transactional processor that
// posts them as balanced wallet entries.
package transfer

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lucky7games/ledger/internal/domain"
)

// LegType marks a descriptor as a debit or credit.
type LegType string

const (
	Debit  LegType = "debit"
	Credit LegType = "credit"
)

// WalletRef identifies a wallet by type and key.
type WalletRef struct {
	Type   string    `json:"type"`
	Name   string    `json:"name,omitempty"`
	UserID uuid.UUID `json:"user_id,omitempty"`
}

// PlatformWallet references a platform wallet by its fixed name.
func PlatformWallet(name string) WalletRef {
	return WalletRef{Type: domain.WalletTypePlatform, Name: name}
}

// UserWallet references a user wallet by user id.
func UserWallet(userID uuid.UUID) WalletRef {
	return WalletRef{Type: domain.WalletTypeUser, UserID: userID}
}

func (r WalletRef) String() string {
	if r.Type == domain.WalletTypeUser {
		return fmt.Sprintf("user:%s", r.UserID)
	}
	return fmt.Sprintf("platform:%s", r.Name)
}

// LegDescriptor is one requested movement against a wallet account.
type LegDescriptor struct {
	Wallet     WalletRef
	Account    string
	Type       LegType
	BypassFlow bool
}

// LegOption customizes a single descriptor.
type LegOption func(*LegDescriptor)

// BypassFlow skips the wallet flow-policy check for this leg.
func BypassFlow() LegOption {
	return func(d *LegDescriptor) { d.BypassFlow = true }
}

// Request is an immutable transfer request produced by Commit. The processor
// is the only consumer; legs are exposed by copy.
type Request struct {
	Amount        decimal.Decimal
	CurrencyCode  string
	Purpose       string
	RequesterType string
	RequesterID   string
	Memo          string
	ExternalRef   string
	LinkedEntryID uuid.UUID

	legs []LegDescriptor
}

// Legs returns a copy of the ordered descriptor list.
func (r *Request) Legs() []LegDescriptor {
	out := make([]LegDescriptor, len(r.legs))
	copy(out, r.legs)
	return out
}

// builderState is shared by all stages; the first recorded error sticks and
// is surfaced at Commit.
type builderState struct {
	req  Request
	legs []LegDescriptor
	err  error
}

func (st *builderState) fail(format string, args ...any) {
	if st.err == nil {
		st.err = domain.Validationf(format, args...)
	}
}

func (st *builderState) append(ref WalletRef, account string, legType LegType, opts []LegOption) {
	d := LegDescriptor{Wallet: ref, Account: account, Type: legType}
	for _, opt := range opts {
		opt(&d)
	}
	if d.Account == "" {
		st.fail("leg for wallet %s is missing an account selector", ref)
		return
	}
	st.legs = append(st.legs, d)
}

// New starts a transfer of a positive amount in the given currency. Amounts
// below the currency's minor unit round to zero and are rejected.
func New(amount decimal.Decimal, currencyCode, purpose string) (*Builder, error) {
	if currencyCode == "" {
		return nil, domain.Validationf("transfer currency is required")
	}
	if purpose == "" {
		return nil, domain.Validationf("transfer purpose is required")
	}
	if value := domain.NewMoney(amount, currencyCode); !value.IsPositive() {
		return nil, domain.Validationf("transfer amount must be positive, got %s", value)
	}
	return &Builder{st: &builderState{req: Request{
		Amount:       amount,
		CurrencyCode: currencyCode,
		Purpose:      purpose,
	}}}, nil
}

/// Builder is the first stage: the requester must be named before anything
// else.
type Builder struct {
	st *builderState
}

// RequestedBy records who initiated the transfer.
func (b *Builder) RequestedBy(requesterType, requesterID string) *MetaStage {
	if requesterType == "" || requesterID == "" {
		b.st.fail("transfer requester is required")
	}
	b.st.req.RequesterType = requesterType
	b.st.req.RequesterID = requesterID
	return &MetaStage{st: b.st}
}

// MetaStage accepts optional metadata and the first debit.
type MetaStage struct {
	st *builderState
}

// Memo attaches a free-form note.
func (m *MetaStage) Memo(memo string) *MetaStage {
	m.st.req.Memo = memo
	return m
}

// ExternalRef attaches the idempotency reference. A later submission with
// the same reference is rejected by the processor.
func (m *MetaStage) ExternalRef(ref string) *MetaStage {
	m.st.req.ExternalRef = ref
	return m
}

// LinkedTo back-references the entry this transfer corrects or follows.
func (m *MetaStage) LinkedTo(entryID uuid.UUID) *MetaStage {
	m.st.req.LinkedEntryID = entryID
	return m
}

// FromPlatform appends a debit against a platform wallet account.
func (m *MetaStage) FromPlatform(name, account string, opts ...LegOption) *SourceStage {
	m.st.append(PlatformWallet(name), account, Debit, opts)
	return &SourceStage{st: m.st}
}

// FromUser appends a debit against a user wallet account.
func (m *MetaStage) FromUser(userID uuid.UUID, account string, opts ...LegOption) *SourceStage {
	m.st.append(UserWallet(userID), account, Debit, opts)
	return &SourceStage{st: m.st}
}

// SourceStage accepts additional debits or the first credit.
type SourceStage struct {
	st *builderState
}

func (s *SourceStage) FromPlatform(name, account string, opts ...LegOption) *SourceStage {
	s.st.append(PlatformWallet(name), account, Debit, opts)
	return s
}

func (s *SourceStage) FromUser(userID uuid.UUID, account string, opts ...LegOption) *SourceStage {
	s.st.append(UserWallet(userID), account, Debit, opts)
	return s
}

// ToPlatform appends a credit for a platform wallet account.
func (s *SourceStage) ToPlatform(name, account string, opts ...LegOption) *TargetStage {
	s.st.append(PlatformWallet(name), account, Credit, opts)
	return &TargetStage{st: s.st}
}

// ToUser appends a credit for a user wallet account.
func (s *SourceStage) ToUser(userID uuid.UUID, account string, opts ...LegOption) *TargetStage {
	s.st.append(UserWallet(userID), account, Credit, opts)
	return &TargetStage{st: s.st}
}

// TargetStage accepts relay credits and finishes the request. Every credit
// after the first emits an implicit debit mirroring the previous credit
// target, so a single chain expresses a multi-hop relay.
type TargetStage struct {
	st *builderState
}

func (t *TargetStage) ToPlatform(name, account string, opts ...LegOption) *TargetStage {
	t.appendRelay(PlatformWallet(name), account, opts)
	return t
}

func (t *TargetStage) ToUser(userID uuid.UUID, account string, opts ...LegOption) *TargetStage {
	t.appendRelay(UserWallet(userID), account, opts)
	return t
}

func (t *TargetStage) appendRelay(ref WalletRef, account string, opts []LegOption) {
	if t.st.err != nil {
		return
	}
	prev := t.st.legs[len(t.st.legs)-1]
	if prev.Type == Debit {
		t.st.fail("credit chained after an unpaired debit on %s", prev.Wallet)
		return
	}
	// The previous credit target becomes the source of this hop.
	t.st.legs = append(t.st.legs, LegDescriptor{
		Wallet:  prev.Wallet,
		Account: prev.Account,
		Type:    Debit,
	})
	t.st.append(ref, account, Credit, opts)
}

// Commit freezes the accumulated descriptors into an immutable request. The
// builder performs no persistence; hand the request to the processor.
func (t *TargetStage) Commit() (*Request, error) {
	st := t.st
	if st.err != nil {
		return nil, st.err
	}
	var debits, credits int
	for _, d := range st.legs {
		if d.Type == Debit {
			debits++
		} else {
			credits++
		}
	}
	if debits == 0 || credits == 0 {
		return nil, domain.Validationf("transfer needs at least one debit and one credit leg")
	}

	req := st.req
	req.legs = make([]LegDescriptor, len(st.legs))
	copy(req.legs, st.legs)
	return &req, nil
}
