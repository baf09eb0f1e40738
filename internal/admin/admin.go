// Package admin implements the operator command surface.
//
// Commands arrive over the same messaging transport as visitor traffic; the
// processor validates the sender against a fixed operator allow-list before
// anything else, so a visitor typing "/encerrar" is a silent no-op.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cajulimao/atendebot/internal/handoff"
)

// timeLayout is the pt-BR timestamp format used in operator replies.
const timeLayout = "02/01/2006 15:04:05"

// Processor parses operator-issued commands against the arbitrator.
type Processor struct {
	operators map[string]bool
	arb       *handoff.Arbitrator
}

// NewProcessor creates a Processor for the given operator phone numbers.
// Numbers are canonicalized to digits before comparison.
func NewProcessor(operators []string, arb *handoff.Arbitrator) *Processor {
	allow := make(map[string]bool, len(operators))
	for _, op := range operators {
		if c := CanonicalPhone(op); c != "" {
			allow[c] = true
		}
	}
	return &Processor{operators: allow, arb: arb}
}

// CanonicalPhone strips everything but digits from a phone identifier.
func CanonicalPhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsOperator reports whether the sender is on the operator allow-list.
// Group and broadcast identifiers never match.
func (p *Processor) IsOperator(phone string) bool {
	if phone == "" || strings.HasSuffix(phone, "@g.us") || strings.Contains(phone, "broadcast") {
		return false
	}
	return p.operators[CanonicalPhone(phone)]
}

// Operators returns the canonical allow-list, used for notification fan-out.
func (p *Processor) Operators() []string {
	out := make([]string, 0, len(p.operators))
	for op := range p.operators {
		out = append(out, op)
	}
	return out
}

// HandleCommand parses an operator message. It returns the reply to send to
// the operator and whether the message was consumed as a command. Messages
// from non-operators are never consumed.
func (p *Processor) HandleCommand(ctx context.Context, from, body string) (string, bool) {
	if !p.IsOperator(from) {
		return "", false
	}
	from = CanonicalPhone(from)
	trimmed := strings.TrimSpace(body)

	if strings.EqualFold(trimmed, "meus atendimentos") {
		return p.listOwnHandoffs(from), true
	}

	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", false
	}
	command := strings.ToLower(fields[0])
	target := ""
	if len(fields) > 1 {
		target = CanonicalPhone(fields[1])
	}

	switch command {
	case "/atender":
		return p.takeOver(ctx, from, target), true
	case "/status":
		return p.status(target), true
	case "/encerrar":
		return p.endHandoff(ctx, target), true
	}
	return "", false
}

func (p *Processor) takeOver(ctx context.Context, operator, target string) string {
	if target == "" {
		return "⚠️ Uso correto: /atender 61912345678"
	}
	rec, err := p.arb.OperatorTakesOver(ctx, target, operator, "")
	if err != nil {
		slog.Error("Admin takeover failed", "error", err, "operator", operator, "target", target)
		return "⚠️ Não foi possível assumir o atendimento"
	}
	return fmt.Sprintf("✅ Você assumiu o atendimento de %s\n📋 Protocolo: %s", target, rec.Protocol)
}

func (p *Processor) status(target string) string {
	if target != "" {
		if rec, ok := p.arb.Status(target); ok {
			return fmt.Sprintf("Status %s: Em atendimento (desde %s, atendente %s)",
				target, rec.StartedAt.Format(timeLayout), rec.Operator)
		}
		return fmt.Sprintf("Status %s: Em modo automático", target)
	}

	records := p.arb.ActiveHandoffs()
	if len(records) == 0 {
		return "ℹ️ Nenhum atendimento humano em andamento"
	}
	var lines []string
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("📞 %s\n⏰ Desde: %s\n👤 Atendente: %s",
			rec.Phone, rec.StartedAt.Format(timeLayout), rec.Operator))
	}
	return "📊 *Atendimentos em andamento:*\n\n" + strings.Join(lines, "\n\n")
}

func (p *Processor) endHandoff(ctx context.Context, target string) string {
	if target == "" {
		return "⚠️ Uso correto: /encerrar 61912345678"
	}
	err := p.arb.EndHandoff(ctx, target)
	if errors.Is(err, handoff.ErrNoHandoff) {
		return "⚠️ Não foi possível encerrar: atendimento não encontrado"
	}
	if err != nil {
		slog.Error("Admin end handoff failed", "error", err, "target", target)
		return "⚠️ Não foi possível encerrar o atendimento"
	}
	return fmt.Sprintf("✅ Atendimento encerrado para %s", target)
}

func (p *Processor) listOwnHandoffs(operator string) string {
	records := p.arb.HandoffsByOperator(operator)
	if len(records) == 0 {
		return "📋 Seus atendimentos ativos:\nNenhum"
	}
	var lines []string
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("%s (desde %s)", rec.Phone, rec.StartedAt.Format("15:04:05")))
	}
	return "📋 Seus atendimentos ativos:\n" + strings.Join(lines, "\n")
}
