package types

// Clone returns a deep copy of the account
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	if a.Multisig != nil {
		ms := *a.Multisig
		ms.Members = append([]MultisigMember(nil), a.Multisig.Members...)
		out.Multisig = &ms
	}
	return &out
}

// Clone returns a deep copy of the reference
func (s *SignerRef) Clone() *SignerRef {
	if s == nil {
		return nil
	}
	out := *s
	out.Members = append([]string(nil), s.Members...)
	return &out
}

// Clone returns a deep copy of the request
func (r *SignatureRequest) Clone() *SignatureRequest {
	if r == nil {
		return nil
	}
	out := *r
	if r.ResolvedAt != nil {
		at := *r.ResolvedAt
		out.ResolvedAt = &at
	}
	return &out
}

// Clone returns a deep copy of the track and every request it owns
func (t *SignatureTrack) Clone() *SignatureTrack {
	if t == nil {
		return nil
	}
	out := *t
	out.Sender = t.Sender.Clone()
	out.Sponsor = t.Sponsor.Clone()
	if t.TransactionPassed != nil {
		passed := *t.TransactionPassed
		out.TransactionPassed = &passed
	}
	out.Requests = make([]*SignatureRequest, len(t.Requests))
	for i, r := range t.Requests {
		out.Requests[i] = r.Clone()
	}
	return &out
}
