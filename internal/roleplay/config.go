package roleplay

import (
	"encoding/json"
	"log"
	"strings"
)

// EndMarker is the token the persona model is instructed to emit, alone,
// right after its final spoken line to signal that the call should end.
const EndMarker = "[ENCERRAR_LIGACAO]"

// endInstruction is appended to system prompts that do not already mention
// the marker, so every persona knows the hang-up convention.
const endInstruction = `

IMPORTANTE: Quando a conversa chegar a uma conclusão natural (acordo fechado,
recusa definitiva, despedida do vendedor, ou quando você não tiver mais interesse),
você DEVE encerrar a ligação de forma educada e natural, dizendo algo como
"Ok, obrigado pelo contato. Tchau!" ou "Certo, vou pensar. Até mais!".
Após sua despedida, envie EXATAMENTE a palavra-chave [ENCERRAR_LIGACAO] sozinha.`

const defaultSystemPrompt = `Você é um cliente profissional recebendo uma ligação comercial.
Seja educado mas cético. Faça perguntas sobre o produto/serviço.
Responda de forma CURTA e natural em português brasileiro (1-2 frases no máximo).

IMPORTANTE: Quando a conversa chegar a uma conclusão natural (acordo fechado,
recusa definitiva, ou despedida), você DEVE encerrar a ligação de forma educada
dizendo algo como "Ok, obrigado pelo contato. Tchau!" e em seguida envie a
palavra-chave [ENCERRAR_LIGACAO] sozinha em uma nova mensagem.`

// voiceMap translates logical voice names from the provisioning system into
// realtime-model voice identifiers.
var voiceMap = map[string]string{
	"male":    "ash",
	"female":  "shimmer",
	"neutral": "alloy",
	"alloy":   "alloy",
	"nova":    "shimmer",
	"echo":    "echo",
	"fable":   "verse",
	"onyx":    "ash",
	"shimmer": "shimmer",
	"ash":     "ash",
	"ballad":  "ballad",
	"coral":   "coral",
	"sage":    "sage",
	"verse":   "verse",
	"marin":   "marin",
	"cedar":   "cedar",
}

const fallbackVoice = "alloy"

// SessionConfig is the resolved, immutable configuration for one roleplay call.
type SessionConfig struct {
	SystemPrompt     string
	Greeting         string
	Voice            string
	EvaluationPrompt string
	TimeLimit        int
	Criteria         json.RawMessage
	PersonaName      string
	SessionID        string
	RoleplayID       string
	CustomerID       string
	UserID           string
}

// DefaultConfig is the fallback used when metadata is absent or unparseable.
func DefaultConfig() SessionConfig {
	return SessionConfig{
		SystemPrompt:     defaultSystemPrompt,
		Greeting:         "Alô?",
		Voice:            "ash",
		EvaluationPrompt: "Avalie a conversa.",
		TimeLimit:        30,
		PersonaName:      "Cliente",
		SessionID:        "unknown",
	}
}

// flexString tolerates identifiers arriving as JSON strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	*f = ""
	return nil
}

type metadata struct {
	Persona struct {
		Name    string `json:"name"`
		Company string `json:"company"`
	} `json:"persona"`
	Voice struct {
		Name string `json:"name"`
	} `json:"voice"`
	Prompts struct {
		System     string `json:"system"`
		Greeting   string `json:"greeting"`
		Evaluation string `json:"evaluation"`
	} `json:"prompts"`
	Config struct {
		TimeLimit int `json:"time_limit"`
	} `json:"config"`
	Criteria   json.RawMessage `json:"criteria"`
	SessionID  flexString      `json:"session_id"`
	RoleplayID flexString      `json:"roleplay_id"`
	CustomerID flexString      `json:"customer_id"`
	UserID     flexString      `json:"user_id"`
}

// MapVoice translates a logical voice name to a realtime voice identifier.
// Unknown or empty names fall back to the canonical neutral voice.
func MapVoice(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = "neutral"
	}
	mapped, ok := voiceMap[key]
	if !ok {
		return fallbackVoice
	}
	return mapped
}

// Resolve parses the opaque room metadata into a SessionConfig. It never
// fails: empty or malformed metadata yields DefaultConfig, and each missing
// subfield degrades to its default independently.
func Resolve(raw string) SessionConfig {
	if strings.TrimSpace(raw) == "" {
		log.Printf("roleplay: empty metadata, using default config")
		return DefaultConfig()
	}

	var md metadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		log.Printf("roleplay: metadata parse failed: %v", err)
		return DefaultConfig()
	}

	def := DefaultConfig()
	cfg := SessionConfig{
		SystemPrompt:     strings.TrimSpace(md.Prompts.System),
		Greeting:         md.Prompts.Greeting,
		EvaluationPrompt: md.Prompts.Evaluation,
		Voice:            MapVoice(md.Voice.Name),
		TimeLimit:        md.Config.TimeLimit,
		Criteria:         md.Criteria,
		PersonaName:      md.Persona.Name,
		SessionID:        string(md.SessionID),
		RoleplayID:       string(md.RoleplayID),
		CustomerID:       string(md.CustomerID),
		UserID:           string(md.UserID),
	}

	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = def.SystemPrompt
	}
	if cfg.Greeting == "" {
		cfg.Greeting = def.Greeting
	}
	if cfg.EvaluationPrompt == "" {
		cfg.EvaluationPrompt = def.EvaluationPrompt
	}
	if cfg.TimeLimit <= 0 {
		cfg.TimeLimit = def.TimeLimit
	}
	if cfg.PersonaName == "" {
		cfg.PersonaName = def.PersonaName
	}
	if cfg.SessionID == "" {
		cfg.SessionID = def.SessionID
	}

	// Every persona must know the hang-up convention, even when the
	// provisioning system supplies its own prompt.
	if !strings.Contains(cfg.SystemPrompt, EndMarker) {
		cfg.SystemPrompt += endInstruction
	}

	log.Printf("roleplay: config loaded persona=%q voice=%q session=%s", cfg.PersonaName, cfg.Voice, cfg.SessionID)
	return cfg
}
