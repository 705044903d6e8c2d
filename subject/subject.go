// Package subject derives NATS subjects for RPC calls.
//
// Two naming conventions exist and a deployment picks exactly one:
//
//	Joined:    namespace="orders", method="get_status" → "orders.get_status"
//	           durable publish                          → "orders.js.get_status"
//	Qualified: namespace is already the full subject; the method name travels
//	           only inside the call envelope. namespace="svc.orders"
//	           → "svc.orders", durable publish → "svc.orders.js"
package subject

import (
	"fmt"
	"strings"

	"nats-rpc/rpcerror"
)

// Convention selects how a subject is built from namespace and method.
type Convention string

const (
	Joined    Convention = "joined"
	Qualified Convention = "qualified"
)

// DurableToken marks durable (JetStream) subjects: inserted between namespace
// and method, or appended to a qualified subject.
const DurableToken = "js"

// ParseConvention maps a configuration value to a Convention. The empty string
// selects Joined.
func ParseConvention(s string) (Convention, error) {
	switch Convention(strings.ToLower(strings.TrimSpace(s))) {
	case "", Joined:
		return Joined, nil
	case Qualified:
		return Qualified, nil
	}
	return "", fmt.Errorf("unknown subject convention %q", s)
}

// Derive returns the subject for a call. It is a pure function of its inputs.
func Derive(conv Convention, namespace, method string, durable bool) (string, error) {
	var subj string
	switch conv {
	case Qualified:
		subj = namespace
		if durable {
			subj = namespace + "." + DurableToken
		}
	case Joined, "":
		if method == "" {
			return "", fmt.Errorf("%w: empty method name", rpcerror.ErrInvalidSubject)
		}
		if durable {
			subj = namespace + "." + DurableToken + "." + method
		} else {
			subj = namespace + "." + method
		}
	default:
		return "", fmt.Errorf("%w: unknown convention %q", rpcerror.ErrInvalidSubject, conv)
	}

	if err := Validate(subj); err != nil {
		return "", err
	}
	return subj, nil
}

// Validate rejects subjects NATS would refuse for publishing: empty tokens,
// whitespace and wildcards.
func Validate(subj string) error {
	if subj == "" {
		return fmt.Errorf("%w: empty subject", rpcerror.ErrInvalidSubject)
	}
	if strings.ContainsAny(subj, " \t\r\n*>") {
		return fmt.Errorf("%w: %q contains whitespace or wildcards", rpcerror.ErrInvalidSubject, subj)
	}
	for _, tok := range strings.Split(subj, ".") {
		if tok == "" {
			return fmt.Errorf("%w: %q has an empty token", rpcerror.ErrInvalidSubject, subj)
		}
	}
	return nil
}
