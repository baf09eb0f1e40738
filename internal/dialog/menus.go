// Package dialog holds the customer-facing message copy.
package dialog

import (
	"fmt"

	"github.com/cajulimao/atendebot/internal/models"
)

// Default recruiting contact, overridable via options.
const (
	DefaultHRPhone = "(61) 99999-0000"
	DefaultHREmail = "rh@cajulimao.com.br"
)

// MainMenu greets the contact and asks for a unit.
func MainMenu(name string) string {
	if name == "" || name == models.DefaultContactName {
		name = "Cliente"
	}
	return fmt.Sprintf("🍹 *Olá, %s!* Que bom te ver aqui! 🌟\n"+
		"Eu sou o assistente virtual do *Boteco Caju Limão* 🍋\n\n"+
		"Para começar, escolha sua unidade preferida:\n\n"+
		"1️⃣ - Asa Norte\n"+
		"2️⃣ - Águas Claras\n\n"+
		"Digite o número da opção desejada 😊\n\n"+
		"Ou digite *sair* para encerrar a conversa.", name)
}

// BranchMenu lists the service options for the chosen unit.
func BranchMenu(name string) string {
	if name == "" || name == models.DefaultContactName {
		name = "Cliente"
	}
	return fmt.Sprintf("🍋 *Olá, %s!* 🌿\n\n"+
		"Como posso te ajudar hoje?\n\n"+
		"1️⃣ - Horário de Funcionamento\n"+
		"2️⃣ - Ver Cardápio\n"+
		"3️⃣ - Fazer Reserva\n"+
		"4️⃣ - Benefícios Aniversariantes\n"+
		"5️⃣ - Sugestões/Reclamações\n"+
		"6️⃣ - Falar com Atendente\n"+
		"7️⃣ - Trabalhe Conosco\n"+
		"8️⃣ - Formas de Pagamento\n\n"+
		"💠 *Comandos especiais:*\n"+
		"• Digite *menu* para ver este menu novamente\n"+
		"• Digite *unidade* para trocar de unidade a qualquer momento.\n"+
		"• Digite *sair* para encerrar a conversa", name)
}

// Goodbye closes the conversation.
func Goodbye(name string) string {
	if name == "" || name == models.DefaultContactName {
		name = "Cliente"
	}
	return fmt.Sprintf("🌟 *Até logo, %s!* Foi um prazer te ajudar! 🍋\n\n"+
		"Se precisar de mais alguma coisa, é só chamar. Estamos à disposição!\n\n"+
		"Volte sempre ao *Boteco Caju Limão*! 💚\n"+
		"Tenha um ótimo dia! 😊", name)
}

// OpeningHours answers branch option 1.
func OpeningHours() string {
	return "⏰ *Horário de Funcionamento* 🍋\n\n" +
		"🟢 Terça a sexta: 17h às 00h\n" +
		"🟢 Sábado: 12h às 00h\n" +
		"🟢 Domingo: 12h às 22h\n\n" +
		"*Segunda-feira: fechado*\n\n" +
		"Feriados: funcionamento normal!"
}

// MenuCard answers branch option 2.
func MenuCard() string {
	return "📖 *Nosso Cardápio* 🍋\n\n" +
		"Confira o cardápio completo com petiscos, pratos e drinks:\n" +
		"🔗 https://cardapio.cajulimao.com.br\n\n" +
		"Bom apetite! 💚"
}

// ReservationInfo answers branch option 3.
func ReservationInfo(name string, branch models.Branch) string {
	if name == "" || name == models.DefaultContactName {
		name = "Cliente"
	}
	link := "https://reservas.cajulimao.com.br/asa-norte"
	if branch == models.BranchAguasClaras {
		link = "https://reservas.cajulimao.com.br/aguas-claras"
	}
	unit := models.BranchLabel(branch)
	return fmt.Sprintf("📅 *Reserva - %s* 🍋\n\n"+
		"Olá, %s! Para garantir sua experiência no *Boteco Caju Limão %s*:\n\n"+
		"1️⃣ *Reserve pelo link:*\n"+
		"🔗 %s\n\n"+
		"2️⃣ *Informações úteis:*\n"+
		"• Mesas limitadas - garanta já a sua!\n\n"+
		"💡 Precisa de ajuda com a reserva ou prefere ser atendido por um atendente?\n"+
		"Digite *6* e nosso time entrará em contato com você! 💚\n\n"+
		"Estamos ansiosos para recebê-lo(a) no Caju Limão!", unit, name, unit, link)
}

// BirthdayBenefits answers branch option 4.
func BirthdayBenefits() string {
	return "🎉 *Benefícios para Aniversariantes* 🍋\n\n" +
		"Aniversariantes ganham um drink especial da casa!\n" +
		"📅 Válido na semana do aniversário\n\n" +
		"Mais informações: digite *6* para falar com nosso atendente"
}

// FeedbackMenu answers branch option 5.
func FeedbackMenu() string {
	return "📢 *Feedback* 🍋\n\n" +
		"1️⃣ Para deixar uma sugestão\n" +
		"2️⃣ Para fazer uma reclamação\n" +
		"3️⃣ Voltar ao menu anterior"
}

// SuggestionPrompt asks for the suggestion text.
func SuggestionPrompt(name string) string {
	if name == "" || name == models.DefaultContactName {
		name = "Cliente"
	}
	return fmt.Sprintf("📝 *%s, vamos registrar sua sugestão!* 💡\n"+
		"Por favor, envie sua sugestão em *uma única mensagem de texto*. "+
		"Assim podemos encaminhar corretamente para nossa equipe.\n"+
		"Sua opinião é muito valiosa para nós! ✨", name)
}

// ComplaintPrompt asks for the complaint text.
func ComplaintPrompt(name string) string {
	if name == "" || name == models.DefaultContactName {
		name = "Cliente"
	}
	return fmt.Sprintf("📝 *%s, vamos resolver isso juntos!* 🤝\n\n"+
		"Por favor, descreva o ocorrido em *uma única mensagem de texto*, "+
		"incluindo todos os detalhes importantes.\n\n"+
		"• O que aconteceu\n"+
		"• Como podemos melhorar\n\n"+
		"Nossa equipe analisará com atenção e entrará em contato se necessário.💚", name)
}

// FeedbackThanks acknowledges a captured feedback text.
func FeedbackThanks(name string, kind models.FeedbackKind) string {
	if name == "" || name == models.DefaultContactName {
		name = "Cliente"
	}
	label := "sugestão"
	followup := "Valorizamos muito sua contribuição para melhorarmos!"
	if kind == models.FeedbackComplaint {
		label = "reclamação"
		followup = "Nossa equipe já está analisando seu caso e entrará em contato se necessário."
	}
	return fmt.Sprintf("🌸 *Muito obrigado, %s!* 💚\n\n"+
		"Sua %s foi registrada com sucesso.\n\n"+
		"%s\n\n"+
		"Volte sempre ao *Caju Limão*! 🍋\n\nvoltando ao menu...", name, label, followup)
}

// JobsInfo answers branch option 7.
func JobsInfo(hrPhone, hrEmail string) string {
	return fmt.Sprintf("🌟 *Trabalhe no Caju Limão!* 🌿\n\n"+
		"Ficamos felizes pelo seu interesse em fazer parte do nosso time!\n\n"+
		"📞 *Contato do RH:* %s\n"+
		"📧 *Envie seu currículo para:* %s\n\n"+
		"Nós analisaremos seu currículo com carinho e entraremos em contato "+
		"caso surjam oportunidades compatíveis com seu perfil.\n\n"+
		"Agradecemos seu interesse! 💚", hrPhone, hrEmail)
}

// PaymentMethods answers branch option 8.
func PaymentMethods() string {
	return "💳 *Formas de Pagamento Aceitas* 🌿\n\n" +
		"• Dinheiro\n" +
		"• Pix\n" +
		"• Cartões de débito e crédito (Visa, Master, Elo)\n" +
		"• Vale-refeição (Alelo, Sodexo, VR)"
}

// HandoffConfirmation tells the visitor a ticket was opened.
func HandoffConfirmation(protocol string) string {
	return fmt.Sprintf("🔔 *ATENDIMENTO HUMANO SOLICITADO* 🔔\n\n"+
		"📌 Protocolo: %s\n"+
		"⏳ Tempo estimado: 10-15 minutos\n\n"+
		"Aguarde enquanto nossos atendentes são notificados.", protocol)
}

// HandoffAlreadyPending tells the visitor their request is already queued.
func HandoffAlreadyPending(protocol string) string {
	return fmt.Sprintf("🔔 Você já tem um atendimento em andamento com protocolo %s", protocol)
}

// OperatorAlert notifies an operator of a new visitor-requested handoff.
func OperatorAlert(name, phone, protocol string, when string) string {
	if name == "" || name == models.DefaultContactName {
		name = "Cliente"
	}
	return fmt.Sprintf("⚠️ *NOVO ATENDIMENTO SOLICITADO*\n\n"+
		"👤 Cliente: %s\n"+
		"📞 Número: %s\n"+
		"📋 Protocolo: %s\n"+
		"⏰ %s\n\n"+
		"Envie uma mensagem diretamente para %s para iniciar o atendimento.",
		name, phone, protocol, when, phone)
}

// GenericApology is sent when the router recovers from an unexpected error.
const GenericApology = "⚠️ Ocorreu um erro inesperado. Por favor, tente novamente mais tarde."
