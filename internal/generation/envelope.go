package generation

import (
	"strings"

	"anagami/internal/config"
	"anagami/internal/retrieval"
)

type phrases struct {
	Request, Company, Industry, Budget, Timeline string
	Missing                                      string
	Knowledge, Templates, PricingRules           string
	StructuredInstruction, LabeledInstruction    string
	OutputLanguage                               string
	Disclaimer                                   string
}

var localized = map[string]phrases{
	"bg": {
		Request:               "Запитване",
		Company:               "Компания",
		Industry:              "Индустрия",
		Budget:                "Приблизителен бюджет",
		Timeline:              "Очакван срок",
		Missing:               "Не е посочено",
		Knowledge:             "Контекст от базата знания:",
		Templates:             "Шаблони:",
		PricingRules:          "Ценови ориентири:",
		StructuredInstruction: "Върни само JSON обект с точно тези ключове: ",
		LabeledInstruction:    "Отговори с всички раздели в този ред. Всеки раздел започва на нов ред с етикета и двоеточие: ",
		OutputLanguage:        "Изходът трябва да е изцяло на български език.",
		Disclaimer:            "Забележка: Цената е ориентировъчна, тъй като не са посочени бюджет или срок. Окончателната оферта се уточнява след консултация.",
	},
	"en": {
		Request:               "Request",
		Company:               "Company",
		Industry:              "Industry",
		Budget:                "Approximate budget",
		Timeline:              "Expected timeline",
		Missing:               "Not specified",
		Knowledge:             "Knowledge base context:",
		Templates:             "Templates:",
		PricingRules:          "Pricing guidelines:",
		StructuredInstruction: "Return only a JSON object with exactly these keys: ",
		LabeledInstruction:    "Answer with every section in this order. Each section starts on a new line with its label and a colon: ",
		OutputLanguage:        "The output must be entirely in English.",
		Disclaimer:            "Note: Pricing is indicative because the budget or timeline was not provided. The final quote is confirmed after a consultation.",
	},
}

func phrasesFor(language string) phrases {
	if p, ok := localized[language]; ok {
		return p
	}
	return localized["en"]
}

// Disclaimer returns the pricing uncertainty notice for the language.
func Disclaimer(language string) string {
	return phrasesFor(language).Disclaimer
}

// AppendDisclaimer adds the notice to text unless it is already there.
func AppendDisclaimer(text, language string) string {
	d := Disclaimer(language)
	text = strings.TrimSpace(text)
	if strings.Contains(text, d) {
		return text
	}
	if text == "" {
		return d
	}
	return text + "\n\n" + d
}

// BuildUserMessage renders the task fields, retrieved context and output instructions.
func BuildUserMessage(in Input, m config.Module, mode string, ctx retrieval.Bundle) string {
	p := phrasesFor(in.Language)
	orMissing := func(v string) string {
		if v = strings.TrimSpace(v); v == "" {
			return p.Missing
		}
		return v
	}
	lines := []string{
		p.Request + ": " + strings.TrimSpace(in.InputText),
		p.Company + ": " + orMissing(in.Company),
		p.Industry + ": " + orMissing(in.Industry),
		p.Budget + ": " + orMissing(in.Budget),
		p.Timeline + ": " + orMissing(in.Timeline),
	}
	lines = appendBlock(lines, p.Knowledge, ctx.Knowledge, "- ")
	lines = appendBlock(lines, p.Templates, ctx.Templates, "")
	lines = appendBlock(lines, p.PricingRules, ctx.PricingRules, "- ")

	keys := make([]string, 0, len(m.Labels))
	for _, l := range m.Labels {
		if mode == config.ModeStructured {
			keys = append(keys, l.JSONKey())
		} else {
			keys = append(keys, l.Key+":")
		}
	}
	lines = append(lines, "")
	if mode == config.ModeStructured {
		lines = append(lines, p.StructuredInstruction+strings.Join(keys, ", "))
	} else {
		lines = append(lines, p.LabeledInstruction+strings.Join(keys, " "))
	}
	lines = append(lines, p.OutputLanguage)
	return strings.Join(lines, "\n")
}

func appendBlock(lines []string, title string, items []string, bullet string) []string {
	if len(items) == 0 {
		return lines
	}
	lines = append(lines, "", title)
	for _, it := range items {
		lines = append(lines, bullet+it)
	}
	return lines
}
