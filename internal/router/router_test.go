package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cajulimao/atendebot/internal/admin"
	"github.com/cajulimao/atendebot/internal/conversation"
	"github.com/cajulimao/atendebot/internal/dialog"
	"github.com/cajulimao/atendebot/internal/handoff"
	"github.com/cajulimao/atendebot/internal/messaging"
	"github.com/cajulimao/atendebot/internal/models"
	"github.com/cajulimao/atendebot/internal/store"
)

const (
	operatorPhone = "61988887777"
	visitorPhone  = "5561999990000"
)

// SentMessage records one outbound send made through the mock service.
type SentMessage struct {
	To   string
	Body string
}

// MockMessagingService records sends; inbound streams are driven by tests
// calling Route directly.
type MockMessagingService struct {
	mu       sync.Mutex
	sent     []SentMessage
	messages chan models.Message
	receipts chan models.Receipt
}

func NewMockMessagingService() *MockMessagingService {
	return &MockMessagingService{
		messages: make(chan models.Message, 16),
		receipts: make(chan models.Receipt, 16),
	}
}

func (m *MockMessagingService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return messaging.CanonicalizeRecipient(recipient)
}

func (m *MockMessagingService) SendMessage(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockMessagingService) Start(ctx context.Context) error { return nil }
func (m *MockMessagingService) Stop() error                     { return nil }

func (m *MockMessagingService) Messages() <-chan models.Message { return m.messages }
func (m *MockMessagingService) Receipts() <-chan models.Receipt { return m.receipts }

func (m *MockMessagingService) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *MockMessagingService) SentTo(phone string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.To == phone {
			out = append(out, s.Body)
		}
	}
	return out
}

type fixture struct {
	svc    *MockMessagingService
	store  *store.InMemoryStore
	cache  *conversation.Cache
	arb    *handoff.Arbitrator
	router *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := NewMockMessagingService()
	st := store.NewInMemoryStore()
	cache := conversation.NewCache(st, conversation.WithMenuCooldown(time.Minute))
	arb := handoff.NewArbitrator(st, cache)
	adm := admin.NewProcessor([]string{operatorPhone}, arb)
	machine := dialog.NewMachine()
	rt := NewRouter(svc, st, cache, arb, adm, machine, WithOperatorAlertDelay(time.Millisecond))
	return &fixture{svc: svc, store: st, cache: cache, arb: arb, router: rt}
}

func visitorMsg(body string) models.Message {
	return models.Message{From: visitorPhone, To: "556133334444", Body: body, Name: "Maria", Time: time.Now().Unix()}
}

func TestFirstContactGetsMainMenu(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.router.Route(ctx, visitorMsg("oi"))

	sent := f.svc.SentTo(visitorPhone)
	if len(sent) != 1 || !strings.Contains(sent[0], "escolha sua unidade") {
		t.Fatalf("Expected the main menu, got %v", sent)
	}

	// The greeting pins the contact at branch selection.
	st, _ := f.cache.Get(ctx, visitorPhone)
	if st == nil || st.State != models.StateMainMenu || st.Branch != models.BranchNone {
		t.Errorf("Expected main_menu state after greeting, got %+v", st)
	}

	// Both directions of the exchange are in the interaction log.
	var user, bot int
	for _, in := range f.store.Interactions() {
		switch in.Sender {
		case models.SenderRoleUser:
			user++
		case models.SenderRoleBot:
			bot++
		}
	}
	if user != 1 || bot != 1 {
		t.Errorf("Expected 1 user + 1 bot interaction, got %d/%d", user, bot)
	}
}

func TestMainMenuDebounce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.router.Route(ctx, visitorMsg("oi"))
	f.router.Route(ctx, visitorMsg("alô?"))

	menus := 0
	for _, body := range f.svc.SentTo(visitorPhone) {
		if strings.Contains(body, "escolha sua unidade") {
			menus++
		}
	}
	if menus != 1 {
		t.Errorf("Rapid repeats must not re-send the menu: got %d menus", menus)
	}
}

func TestSwitchBranchWithinMenuCooldown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.router.Route(ctx, visitorMsg("oi"))
	f.router.Route(ctx, visitorMsg("1"))

	// Well inside the cooldown, but an explicit switch must always answer.
	f.router.Route(ctx, visitorMsg("unidade"))

	menus := 0
	for _, body := range f.svc.SentTo(visitorPhone) {
		if strings.Contains(body, "escolha sua unidade") {
			menus++
		}
	}
	if menus != 2 {
		t.Fatalf("unidade must re-send the main menu despite the cooldown: got %d menus", menus)
	}

	st, _ := f.cache.Get(ctx, visitorPhone)
	if st == nil || st.State != models.StateMainMenu || st.Branch != models.BranchNone {
		t.Errorf("unidade should drop the chosen branch, got %+v", st)
	}
}

func TestBranchSelectionAndHandoffScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.router.Route(ctx, visitorMsg("oi"))
	f.router.Route(ctx, visitorMsg("1"))

	st, _ := f.cache.Get(ctx, visitorPhone)
	if st == nil || st.State != models.StateBranchMenu || st.Branch != models.BranchAsaNorte {
		t.Fatalf("Expected branch menu after option 1, got %+v", st)
	}

	f.router.Route(ctx, visitorMsg("6"))

	rec, ok := f.arb.Status(visitorPhone)
	if !ok {
		t.Fatal("Option 6 should open a handoff")
	}
	if !strings.HasPrefix(rec.Protocol, handoff.VisitorProtocolPrefix) {
		t.Errorf("Expected a visitor protocol, got %q", rec.Protocol)
	}

	// The visitor gets a confirmation carrying the protocol.
	confirmed := false
	for _, body := range f.svc.SentTo(visitorPhone) {
		if strings.Contains(body, rec.Protocol) {
			confirmed = true
		}
	}
	if !confirmed {
		t.Errorf("Visitor confirmation should include the protocol %q", rec.Protocol)
	}

	// Every operator is notified with the contact and the protocol.
	alerts := f.svc.SentTo(operatorPhone)
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 operator alert, got %d", len(alerts))
	}
	if !strings.Contains(alerts[0], visitorPhone) || !strings.Contains(alerts[0], rec.Protocol) {
		t.Errorf("Alert must carry number and protocol: %q", alerts[0])
	}
}

func TestHandoffRequestDropsMenuCooldown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.router.Route(ctx, visitorMsg("oi"))
	f.router.Route(ctx, visitorMsg("1"))
	if !f.cache.MenuRecentlySent(visitorPhone) {
		t.Fatal("Expected an armed menu cooldown before the handoff")
	}

	f.router.Route(ctx, visitorMsg("6"))

	// Opening the ticket forgets the cooldown so the menu is never
	// suppressed once the handoff ends.
	if f.cache.MenuRecentlySent(visitorPhone) {
		t.Error("Opening a handoff must clear the menu cooldown")
	}
}

func TestInteractionLogCarriesHandoffProtocol(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.router.Route(ctx, visitorMsg("oi"))
	f.router.Route(ctx, visitorMsg("1"))
	f.router.Route(ctx, visitorMsg("6"))
	rec, ok := f.arb.Status(visitorPhone)
	if !ok {
		t.Fatal("Option 6 should open a handoff")
	}

	// "menu" passes the allow-list, so its log rows are written while the
	// handoff is live and must carry its ticket.
	f.router.Route(ctx, visitorMsg("menu"))

	var tagged int
	for _, in := range f.store.Interactions() {
		if !in.HandedOff {
			continue
		}
		if in.Protocol != rec.Protocol {
			t.Errorf("Handed-off row should carry protocol %q, got %q", rec.Protocol, in.Protocol)
		}
		if in.Operator != rec.Operator {
			t.Errorf("Handed-off row should carry operator %q, got %q", rec.Operator, in.Operator)
		}
		tagged++
	}
	// The ticket row itself plus the "menu" exchange (user + bot reply).
	if tagged < 3 {
		t.Errorf("Expected at least 3 handed-off rows with the ticket, got %d", tagged)
	}
}

func TestDuplicateHandoffRequestKeepsProtocol(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.router.Route(ctx, visitorMsg("oi"))
	f.router.Route(ctx, visitorMsg("1"))
	f.router.Route(ctx, visitorMsg("6"))
	rec, _ := f.arb.Status(visitorPhone)
	alertsBefore := len(f.svc.SentTo(operatorPhone))

	// "6" is not on the allow-list, so during the pending handoff the repeat
	// is silently dropped rather than duplicated.
	f.router.Route(ctx, visitorMsg("6"))

	after, _ := f.arb.Status(visitorPhone)
	if after.Protocol != rec.Protocol {
		t.Errorf("Protocol must be stable across repeats: %q != %q", after.Protocol, rec.Protocol)
	}
	if n := len(f.svc.SentTo(operatorPhone)); n != alertsBefore {
		t.Errorf("No duplicate operator alerts expected: %d != %d", n, alertsBefore)
	}
}

func TestHandoffMutesBot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.router.Route(ctx, visitorMsg("oi"))
	f.router.Route(ctx, visitorMsg("1"))
	f.router.Route(ctx, visitorMsg("6"))
	before := len(f.svc.SentTo(visitorPhone))

	f.router.Route(ctx, visitorMsg("qual o horário?"))

	if n := len(f.svc.SentTo(visitorPhone)); n != before {
		t.Errorf("Bot must stay silent during a handoff: %d sends before, %d after", before, n)
	}
}

func TestAllowListDuringVisitorRequestedHandoff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.router.Route(ctx, visitorMsg("oi"))
	f.router.Route(ctx, visitorMsg("1"))
	f.router.Route(ctx, visitorMsg("6"))

	// "sair" stays available so the visitor can self-service out.
	f.router.Route(ctx, visitorMsg("sair"))

	goodbye := false
	for _, body := range f.svc.SentTo(visitorPhone) {
		if strings.Contains(body, "Até logo") {
			goodbye = true
		}
	}
	if !goodbye {
		t.Error("sair should still work while a visitor-requested handoff is pending")
	}
}

func TestOperatorInitiatedHandoffBlocksEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.arb.OperatorTakesOver(ctx, visitorPhone, operatorPhone, ""); err != nil {
		t.Fatalf("OperatorTakesOver failed: %v", err)
	}
	f.router.Route(ctx, visitorMsg("sair"))

	if n := len(f.svc.SentTo(visitorPhone)); n != 0 {
		t.Errorf("Operator-initiated handoffs mute even allow-list commands, got %d sends", n)
	}
}

func TestGroupMessagesDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.router.Route(ctx, models.Message{From: visitorPhone, Body: "oi", Group: true})

	if len(f.svc.Sent()) != 0 {
		t.Error("Group traffic must be ignored")
	}
	if len(f.store.Interactions()) != 0 {
		t.Error("Group traffic must not be logged")
	}
}

func TestSelfEchoesDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.router.Route(ctx, models.Message{From: "556133334444", To: visitorPhone, Body: "echo", FromSelf: true})

	if len(f.svc.Sent()) != 0 {
		t.Error("Non-operator self echoes must be ignored")
	}
}

func TestImplicitTakeoverFromBusinessAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// The business account itself is on the operator allow-list; a human
	// typing from it to a visitor takes the conversation over.
	adm := admin.NewProcessor([]string{operatorPhone, "556133334444"}, f.arb)
	rt := NewRouter(f.svc, f.store, f.cache, f.arb, adm, dialog.NewMachine(), WithOperatorAlertDelay(time.Millisecond))

	rt.Route(ctx, models.Message{From: "556133334444", To: visitorPhone, Body: "olá, em que posso ajudar?", FromSelf: true})

	rec, ok := f.arb.Status(visitorPhone)
	if !ok {
		t.Fatal("Direct operator message should open a handoff")
	}
	if !rec.OperatorInitiated {
		t.Error("Implicit takeover is operator-initiated")
	}
	if !strings.HasPrefix(rec.Protocol, handoff.OperatorProtocolPrefix) {
		t.Errorf("Expected an operator protocol, got %q", rec.Protocol)
	}

	// The operator gets a confirmation with the protocol.
	confirmations := f.svc.SentTo("556133334444")
	if len(confirmations) != 1 || !strings.Contains(confirmations[0], rec.Protocol) {
		t.Errorf("Expected a takeover confirmation, got %v", confirmations)
	}

	// A second direct message must not restart the handoff.
	rt.Route(ctx, models.Message{From: "556133334444", To: visitorPhone, Body: "só um momento", FromSelf: true})
	after, _ := f.arb.Status(visitorPhone)
	if after.Protocol != rec.Protocol {
		t.Errorf("Repeat direct messages must keep the record: %q != %q", after.Protocol, rec.Protocol)
	}
}

func TestOperatorCommandThroughRouter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.router.Route(ctx, visitorMsg("oi"))
	f.router.Route(ctx, visitorMsg("1"))
	f.router.Route(ctx, visitorMsg("6"))

	f.router.Route(ctx, models.Message{From: operatorPhone, To: "556133334444", Body: "/encerrar " + visitorPhone})

	if f.arb.IsHandedOff(visitorPhone) {
		t.Error("Handoff should be ended via the operator command")
	}
	replies := f.svc.SentTo(operatorPhone)
	found := false
	for _, body := range replies {
		if strings.Contains(body, "Atendimento encerrado") {
			found = true
		}
	}
	if !found {
		t.Errorf("Operator should get a success confirmation, got %v", replies)
	}
}

func TestFeedbackScenarioEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.router.Route(ctx, visitorMsg("oi"))
	f.router.Route(ctx, visitorMsg("2"))
	f.router.Route(ctx, visitorMsg("5"))
	f.router.Route(ctx, visitorMsg("2"))
	f.router.Route(ctx, visitorMsg("o atendimento demorou"))

	reports, err := f.store.ListFeedback()
	if err != nil {
		t.Fatalf("ListFeedback failed: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("Expected 1 feedback entry, got %d", len(reports))
	}
	r := reports[0]
	if r.Kind != models.FeedbackComplaint || r.Text != "o atendimento demorou" {
		t.Errorf("Feedback content mismatch: %+v", r)
	}
	if r.Phone != visitorPhone || r.Name != "Maria" {
		t.Errorf("Feedback should join the contact: %+v", r)
	}

	// Back at the branch menu afterwards.
	st, _ := f.cache.Get(ctx, visitorPhone)
	if st == nil || st.State != models.StateBranchMenu {
		t.Errorf("Expected branch menu after feedback capture, got %+v", st)
	}
}

func TestPerContactSerialization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.router.Route(ctx, visitorMsg("oi"))

	// A burst of identical selections from one contact must behave as if
	// processed one at a time: a single committed transition, no lost update.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.router.Route(ctx, visitorMsg("1"))
		}()
	}
	wg.Wait()

	st, _ := f.cache.Get(ctx, visitorPhone)
	if st == nil || st.State != models.StateBranchMenu || st.Branch != models.BranchAsaNorte {
		t.Errorf("Expected a consistent branch menu state, got %+v", st)
	}

	// And a burst of handoff requests collapses to one record.
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.router.Route(ctx, visitorMsg("6"))
		}()
	}
	wg.Wait()

	if n := len(f.arb.ActiveHandoffs()); n != 1 {
		t.Errorf("Concurrent requests must yield a single handoff record, got %d", n)
	}
}

func TestStartConsumesMessageStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t)

	f.router.Start(ctx)
	f.svc.messages <- visitorMsg("oi")

	deadline := time.After(2 * time.Second)
	for len(f.svc.SentTo(visitorPhone)) == 0 {
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for the routed reply")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	f.router.Wait()
}
