package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ModeStructured = "structured"
	ModeLabeled    = "labeled"
)

// Catalog models the business modules known to the service: their output labels,
// parse mode and built-in prompts.
type Catalog struct {
	Modules []Module `yaml:"modules"`
}

type Module struct {
	Code     string            `yaml:"code"`
	Name     string            `yaml:"name"`
	Mode     string            `yaml:"mode"`
	Internal bool              `yaml:"internal"`
	Labels   []Label           `yaml:"labels"`
	Prompts  map[string]string `yaml:"prompts"`
}

type Label struct {
	Key   string            `yaml:"key"`
	JSON  string            `yaml:"json"`
	Title map[string]string `yaml:"title"`
}

// JSONKey is the key used for the label in structured output.
func (l Label) JSONKey() string {
	if l.JSON != "" {
		return l.JSON
	}
	return l.Key
}

// TitleFor returns the display title in the given language, falling back to the key.
func (l Label) TitleFor(language string) string {
	if t := l.Title[language]; t != "" {
		return t
	}
	if t := l.Title["en"]; t != "" {
		return t
	}
	return l.Key
}

// Module returns the module with the given code.
func (c *Catalog) Module(code string) (Module, bool) {
	if c == nil {
		return Module{}, false
	}
	for _, m := range c.Modules {
		if m.Code == code {
			return m, true
		}
	}
	return Module{}, false
}

// LabelKeys returns the ordered section types of the module.
func (m Module) LabelKeys() []string {
	keys := make([]string, 0, len(m.Labels))
	for _, l := range m.Labels {
		keys = append(keys, l.Key)
	}
	return keys
}

func (m Module) HasLabel(key string) bool {
	for _, l := range m.Labels {
		if l.Key == key {
			return true
		}
	}
	return false
}

// DefaultPrompt returns the built-in prompt for the language, or "".
func (m Module) DefaultPrompt(language string) string {
	if p := strings.TrimSpace(m.Prompts[language]); p != "" {
		return p
	}
	return strings.TrimSpace(m.Prompts["en"])
}

// Validate ensures the catalog meets required structure.
func (c *Catalog) Validate() error {
	if len(c.Modules) == 0 {
		return fmt.Errorf("catalog.modules is required")
	}
	seen := map[string]bool{}
	for _, m := range c.Modules {
		if m.Code == "" {
			return fmt.Errorf("catalog module with empty code")
		}
		if seen[m.Code] {
			return fmt.Errorf("catalog module %s defined twice", m.Code)
		}
		seen[m.Code] = true
		if m.Internal {
			continue
		}
		if m.Mode != ModeStructured && m.Mode != ModeLabeled {
			return fmt.Errorf("module %s has invalid mode %q", m.Code, m.Mode)
		}
		if len(m.Labels) == 0 {
			return fmt.Errorf("module %s has no labels", m.Code)
		}
		labels := map[string]bool{}
		for _, l := range m.Labels {
			if l.Key == "" {
				return fmt.Errorf("module %s has empty label key", m.Code)
			}
			if labels[l.Key] {
				return fmt.Errorf("module %s repeats label %s", m.Code, l.Key)
			}
			labels[l.Key] = true
		}
	}
	return nil
}

// DefaultCatalog returns the built-in module catalog.
func DefaultCatalog() *Catalog {
	cat, err := CatalogFromYAML([]byte(defaultCatalog))
	if err != nil {
		panic(fmt.Sprintf("built-in catalog: %v", err))
	}
	return cat
}

// CatalogFromYAML parses and validates a catalog from raw YAML bytes.
func CatalogFromYAML(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// LoadCatalog reads the catalog file, or returns the built-in catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return CatalogFromYAML(data)
}

const defaultCatalog = `modules:
  - code: offers
    name: Offers
    mode: structured
    labels:
      - key: analysis
        title: {bg: "Анализ", en: "Analysis"}
      - key: service
        title: {bg: "Препоръчана услуга", en: "Recommended service"}
      - key: pricing
        title: {bg: "Ценообразуване", en: "Pricing"}
      - key: proposal_draft
        json: proposalDraft
        title: {bg: "Чернова на оферта", en: "Proposal draft"}
      - key: email_draft
        json: emailDraft
        title: {bg: "Чернова на имейл", en: "Email draft"}
      - key: upsell
        title: {bg: "Допълнителни възможности", en: "Upsell"}
    prompts:
      bg: "Ти си Anagami Sales Proposal Agent. Създаваш практични, етични и прозрачни оферти. Връщай САМО JSON с ключове: analysis, service, pricing, proposalDraft, emailDraft, upsell. Не обещавай гарантирани резултати. При несигурност добавяй дисклеймър за цената."
      en: "You are Anagami Sales Proposal Agent. Produce practical, ethical and transparent sales drafts. Return STRICT JSON with keys: analysis, service, pricing, proposalDraft, emailDraft, upsell. Never promise guaranteed outcomes. Include pricing uncertainty disclaimer if needed."

  - code: email
    name: Email replies
    mode: labeled
    labels:
      - key: reply_short
        title: {bg: "Кратък отговор", en: "Short reply"}
      - key: reply_standard
        title: {bg: "Стандартен отговор", en: "Standard reply"}
      - key: reply_detailed
        title: {bg: "Подробен отговор", en: "Detailed reply"}
    prompts:
      bg: "Ти си Anagami Email Agent. Пишеш учтиви, ясни и професионални отговори на клиентски имейли в три дължини."
      en: "You are Anagami Email Agent. Write polite, clear and professional replies to customer emails in three lengths."

  - code: contracts
    name: Contracts
    mode: labeled
    labels:
      - key: summary
        title: {bg: "Резюме", en: "Summary"}
      - key: key_terms
        title: {bg: "Ключови условия", en: "Key terms"}
      - key: risks
        title: {bg: "Рискове", en: "Risks"}
      - key: draft
        title: {bg: "Чернова", en: "Draft"}
    prompts:
      bg: "Ти си Anagami Contracts Agent. Обобщаваш договорни искания, отбелязваш рискове и подготвяш чернова. Не даваш правен съвет."
      en: "You are Anagami Contracts Agent. Summarize contract requests, flag risks and prepare a draft. You do not give legal advice."

  - code: support
    name: Support
    mode: labeled
    labels:
      - key: classification
        title: {bg: "Класификация", en: "Classification"}
      - key: reply
        title: {bg: "Отговор", en: "Reply"}
      - key: internal_notes
        title: {bg: "Вътрешни бележки", en: "Internal notes"}
    prompts:
      bg: "Ти си Anagami Support Agent. Класифицираш запитването, пишеш отговор към клиента и вътрешни бележки за екипа."
      en: "You are Anagami Support Agent. Classify the request, write a customer reply and internal notes for the team."

  - code: marketing
    name: Marketing
    mode: labeled
    labels:
      - key: audience
        title: {bg: "Аудитория", en: "Audience"}
      - key: messaging
        title: {bg: "Послания", en: "Messaging"}
      - key: post_draft
        title: {bg: "Чернова на публикация", en: "Post draft"}
      - key: email_draft
        title: {bg: "Чернова на имейл", en: "Email draft"}
    prompts:
      bg: "Ти си Anagami Marketing Agent. Определяш аудитория и послания и пишеш чернови на публикация и имейл."
      en: "You are Anagami Marketing Agent. Define the audience and messaging and draft a post and an email."

  - code: recruiting
    name: Recruiting
    mode: labeled
    labels:
      - key: role_summary
        title: {bg: "Резюме на позицията", en: "Role summary"}
      - key: job_post
        title: {bg: "Обява", en: "Job post"}
      - key: screening_questions
        title: {bg: "Въпроси за подбор", en: "Screening questions"}
    prompts:
      bg: "Ти си Anagami Recruiting Agent. Описваш позицията, пишеш обява и предлагаш въпроси за първоначален подбор."
      en: "You are Anagami Recruiting Agent. Summarize the role, write a job post and suggest screening questions."

  - code: admin
    name: Administration
    internal: true
`
