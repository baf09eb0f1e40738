package dialog

import (
	"strings"
	"testing"

	"github.com/cajulimao/atendebot/internal/models"
)

func hasEffect(d Decision, kind EffectKind) bool {
	for _, ef := range d.Effects {
		if ef.Kind == kind {
			return true
		}
	}
	return false
}

func TestUnknownInputShowsMainMenu(t *testing.T) {
	m := NewMachine()
	d := m.Decide(models.StateNone, models.BranchNone, "oi", "Maria")
	if !hasEffect(d, EffectShowMainMenu) {
		t.Errorf("Unrecognized input with no state should re-offer the main menu: %+v", d)
	}
	if d.SetState {
		t.Error("Showing the main menu must not persist a transition")
	}
}

func TestBranchSelection(t *testing.T) {
	m := NewMachine()

	d := m.Decide(models.StateMainMenu, models.BranchNone, "1", "Maria")
	if !d.SetState || d.NextState != models.StateBranchMenu || d.NextBranch != models.BranchAsaNorte {
		t.Errorf("Option 1 should select Asa Norte: %+v", d)
	}
	if len(d.Replies) != 1 || !strings.Contains(d.Replies[0], "Como posso te ajudar") {
		t.Errorf("Expected the branch menu reply, got %v", d.Replies)
	}

	d = m.Decide(models.StateMainMenu, models.BranchNone, "2", "Maria")
	if d.NextBranch != models.BranchAguasClaras {
		t.Errorf("Option 2 should select Águas Claras: %+v", d)
	}
}

func TestBranchMenuInformationOptions(t *testing.T) {
	m := NewMachine()
	tests := []struct {
		input    string
		fragment string
	}{
		{"1", "Horário de Funcionamento"},
		{"2", "Cardápio"},
		{"3", "Reserva"},
		{"4", "Aniversariantes"},
		{"7", "Trabalhe"},
		{"8", "Pagamento"},
	}
	for _, tt := range tests {
		d := m.Decide(models.StateBranchMenu, models.BranchAsaNorte, tt.input, "Maria")
		if d.SetState {
			t.Errorf("Informational option %s must not change state", tt.input)
		}
		if len(d.Replies) != 1 || !strings.Contains(d.Replies[0], tt.fragment) {
			t.Errorf("Option %s: expected reply containing %q, got %v", tt.input, tt.fragment, d.Replies)
		}
	}
}

func TestBranchMenuHandoffDelegates(t *testing.T) {
	m := NewMachine()
	d := m.Decide(models.StateBranchMenu, models.BranchAsaNorte, "6", "Maria")
	if !hasEffect(d, EffectRequestHandoff) {
		t.Errorf("Option 6 must delegate to the arbitrator: %+v", d)
	}
	if len(d.Replies) != 0 {
		t.Errorf("The machine does not confirm handoffs itself, got %v", d.Replies)
	}
	if d.SetState {
		t.Error("Handoff delegation must not persist a transition")
	}
}

func TestBranchMenuUnknownOptionRedisplays(t *testing.T) {
	m := NewMachine()
	d := m.Decide(models.StateBranchMenu, models.BranchAsaNorte, "99", "Maria")
	if len(d.Replies) != 1 || !strings.Contains(d.Replies[0], "Como posso te ajudar") {
		t.Errorf("Unknown branch option should redisplay the menu, got %v", d.Replies)
	}
}

func TestFeedbackFlow(t *testing.T) {
	m := NewMachine()

	// Option 5 enters the feedback type selection.
	d := m.Decide(models.StateBranchMenu, models.BranchAsaNorte, "5", "Maria")
	if !d.SetState || d.NextState != models.StateFeedbackType {
		t.Fatalf("Option 5 should enter feedback type selection: %+v", d)
	}

	// Complaint selected.
	d = m.Decide(models.StateFeedbackType, models.BranchAsaNorte, "2", "Maria")
	if !d.SetState || d.NextState != models.StateFeedbackComplaint {
		t.Fatalf("Option 2 should await complaint text: %+v", d)
	}

	// The next message is captured as the complaint.
	d = m.Decide(models.StateFeedbackComplaint, models.BranchAsaNorte, "o pedido atrasou muito", "Maria")
	if len(d.Effects) != 1 || d.Effects[0].Kind != EffectSaveFeedback {
		t.Fatalf("Expected a save-feedback effect: %+v", d)
	}
	if d.Effects[0].FeedbackKind != models.FeedbackComplaint {
		t.Errorf("Expected complaint kind, got %s", d.Effects[0].FeedbackKind)
	}
	if d.Effects[0].FeedbackText != "o pedido atrasou muito" {
		t.Errorf("Captured text mismatch: %q", d.Effects[0].FeedbackText)
	}
	if d.NextState != models.StateBranchMenu || !d.SetState {
		t.Errorf("After capture the contact returns to the branch menu: %+v", d)
	}
	if len(d.Replies) != 2 {
		t.Errorf("Expected thanks plus branch menu, got %v", d.Replies)
	}
}

func TestFeedbackCaptureConsumesCommands(t *testing.T) {
	m := NewMachine()
	// Even a global command is swallowed as feedback text while capturing.
	d := m.Decide(models.StateFeedbackSuggestion, models.BranchAsaNorte, "sair", "Maria")
	if len(d.Effects) != 1 || d.Effects[0].Kind != EffectSaveFeedback {
		t.Fatalf("Capture state must consume the next message unconditionally: %+v", d)
	}
	if d.Effects[0].FeedbackKind != models.FeedbackSuggestion {
		t.Errorf("Expected suggestion kind, got %s", d.Effects[0].FeedbackKind)
	}
}

func TestFeedbackTypeBackOption(t *testing.T) {
	m := NewMachine()
	d := m.Decide(models.StateFeedbackType, models.BranchAguasClaras, "3", "Maria")
	if d.NextState != models.StateBranchMenu || d.NextBranch != models.BranchAguasClaras {
		t.Errorf("Option 3 should return to the branch menu: %+v", d)
	}
}

func TestGlobalCommands(t *testing.T) {
	m := NewMachine()

	// "menu" with a chosen branch redisplays the branch menu.
	d := m.Decide(models.StateBranchMenu, models.BranchAsaNorte, "MENU", "Maria")
	if d.NextState != models.StateBranchMenu || !d.SetState {
		t.Errorf("menu should pin the branch menu state: %+v", d)
	}

	// "menu" without a branch falls back to the main menu.
	d = m.Decide(models.StateMainMenu, models.BranchNone, "menu", "Maria")
	if !hasEffect(d, EffectShowMainMenu) {
		t.Errorf("menu without a branch should show the main menu: %+v", d)
	}

	// "unidade" always returns to branch selection, dropping the stored
	// state first so the cooldown cannot swallow the menu.
	d = m.Decide(models.StateBranchMenu, models.BranchAsaNorte, "unidade", "Maria")
	if !hasEffect(d, EffectResetConversation) {
		t.Errorf("unidade should reset the conversation: %+v", d)
	}
	if !hasEffect(d, EffectShowMainMenu) {
		t.Errorf("unidade should show the main menu: %+v", d)
	}
	if len(d.Effects) == 2 && d.Effects[0].Kind != EffectResetConversation {
		t.Errorf("unidade must reset before showing the menu: %+v", d.Effects)
	}

	// "sair" says goodbye and resets.
	d = m.Decide(models.StateBranchMenu, models.BranchAsaNorte, "sair", "Maria")
	if !hasEffect(d, EffectResetConversation) {
		t.Errorf("sair should reset the conversation: %+v", d)
	}
	if len(d.Replies) != 1 || !strings.Contains(d.Replies[0], "Até logo") {
		t.Errorf("Expected the goodbye reply, got %v", d.Replies)
	}
}

func TestHRContactOption(t *testing.T) {
	m := NewMachine(WithHRContact("(61) 91234-5678", "vagas@example.com.br"))
	d := m.Decide(models.StateBranchMenu, models.BranchAsaNorte, "7", "Maria")
	if len(d.Replies) != 1 || !strings.Contains(d.Replies[0], "vagas@example.com.br") {
		t.Errorf("Expected the configured HR contact in the jobs reply, got %v", d.Replies)
	}
}

func TestMenuCopyFallsBackToGenericName(t *testing.T) {
	got := MainMenu(models.DefaultContactName)
	if !strings.Contains(got, "Cliente") {
		t.Errorf("Placeholder contact names should render as Cliente: %q", got)
	}
	got = MainMenu("")
	if !strings.Contains(got, "Cliente") {
		t.Errorf("Empty names should render as Cliente: %q", got)
	}
}
