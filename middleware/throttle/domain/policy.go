package domain

import (
	"fmt"
	"strings"
	"time"
)

type PolicyKind string

const (
	// PolicyTime admite quando já passou o intervalo mínimo desde a última admissão.
	PolicyTime PolicyKind = "time"
	// PolicyCount admite quando o contador de negações passa do limite.
	PolicyCount PolicyKind = "count"
)

func ParsePolicyKind(s string) (PolicyKind, error) {
	switch k := PolicyKind(strings.ToLower(strings.TrimSpace(s))); k {
	case PolicyTime, PolicyCount:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown policy kind %q", ErrInvalidConfiguration, s)
	}
}

// Policy é a variante fechada TimeBased{minInterval} | CountBased{maxDenials}.
//
// Threshold é em milissegundos para PolicyTime e em número de chamadas para PolicyCount.
type Policy struct {
	Kind      PolicyKind
	Threshold int64
}

func TimeBased(minInterval time.Duration) Policy {
	ms := minInterval.Milliseconds()
	if minInterval < 0 && ms == 0 {
		// Milliseconds trunca para zero; negativo continua negativo para Validate.
		ms = -1
	}
	return Policy{Kind: PolicyTime, Threshold: ms}
}

func CountBased(threshold int64) Policy {
	return Policy{Kind: PolicyCount, Threshold: threshold}
}

func (p Policy) Validate() error {
	if p.Kind != PolicyTime && p.Kind != PolicyCount {
		return fmt.Errorf("%w: unknown policy kind %q", ErrInvalidConfiguration, p.Kind)
	}
	if p.Threshold < 0 {
		return fmt.Errorf("%w: negative threshold %d", ErrInvalidConfiguration, p.Threshold)
	}
	return nil
}

// Interval devolve o threshold como duração (só faz sentido para PolicyTime).
func (p Policy) Interval() time.Duration {
	return time.Duration(p.Threshold) * time.Millisecond
}

func (p Policy) String() string {
	if p.Kind == PolicyTime {
		return fmt.Sprintf("%s/%s", p.Kind, p.Interval())
	}
	return fmt.Sprintf("%s/%d", p.Kind, p.Threshold)
}
