package gemini

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

const fortunePromptTemplate = `Write a short daily fortune for {{.Weekday}}, {{.Day}}.
Keep it warm and playful, under 80 words, and end with one small piece of advice for the day.
Reply with the fortune text only.`

type fortuneData struct {
	Day     string
	Weekday string
}

func parseFortuneTemplate() (*template.Template, error) {
	return template.New("daily_fortune").Parse(fortunePromptTemplate)
}

// renderFortunePrompt fills the fortune template for day (YYYY-MM-DD).
func renderFortunePrompt(tmpl *template.Template, day string, layout string) (string, error) {
	parsed, err := time.Parse(layout, day)
	if err != nil {
		return "", fmt.Errorf("invalid fortune day %q: %w", day, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, fortuneData{Day: day, Weekday: parsed.Weekday().String()}); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}
