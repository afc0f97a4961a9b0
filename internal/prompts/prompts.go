// Package prompts renders the natural-language prompts sent to the
// completion service. Templates are embedded and filled by simple
// placeholder replacement.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/driverline/screener/internal/domain"
	"github.com/driverline/screener/internal/llm"
)

//go:embed templates/*.md
var templates embed.FS

// Context carries the candidate- and job-level fields most templates
// interpolate.
type Context struct {
	FirstName string
	JobTitle  string
}

func load(name string) string {
	raw, err := templates.ReadFile("templates/" + name)
	if err != nil {
		// Templates are embedded; a missing one is a programming error.
		panic(fmt.Sprintf("prompt template %s: %v", name, err))
	}
	return string(raw)
}

func render(name string, replacements map[string]string) string {
	out := load(name)
	for key, value := range replacements {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}

func criteriaJSON(req domain.Requirement) string {
	raw, err := json.Marshal(req.Criteria)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func system(content string, history []llm.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: content})
	messages = append(messages, history...)
	return messages
}

// Greeting builds the initial greeting request for a fresh conversation.
func Greeting(pc Context) []llm.Message {
	content := render("greeting.md", map[string]string{
		"FIRST_NAME": pc.FirstName,
		"JOB_TITLE":  pc.JobTitle,
	})
	return []llm.Message{
		{Role: llm.RoleSystem, Content: content},
		{Role: llm.RoleUser, Content: "Hello"},
	}
}

// GoodLuck builds the short farewell sent when the candidate declines.
func GoodLuck(pc Context, history []llm.Message) []llm.Message {
	content := render("good_luck.md", map[string]string{
		"FIRST_NAME": pc.FirstName,
		"JOB_TITLE":  pc.JobTitle,
	})
	return system(content, history)
}

// RequirementQuestion asks the model to phrase the question for req.
func RequirementQuestion(pc Context, req domain.Requirement, history []llm.Message) []llm.Message {
	content := render("requirement_question.md", map[string]string{
		"FIRST_NAME":              pc.FirstName,
		"JOB_TITLE":               pc.JobTitle,
		"REQUIREMENT_DESCRIPTION": req.Description,
		"CRITERIA_JSON":           criteriaJSON(req),
	})
	return system(content, history)
}

// Evaluate builds the extraction-and-classification request for one
// answer against one requirement. The strict JSON contract lives in the
// template.
func Evaluate(req domain.Requirement, answer string) []llm.Message {
	content := render("evaluate.md", map[string]string{
		"REQUIREMENT_TYPE":        req.Type,
		"REQUIREMENT_DESCRIPTION": req.Description,
		"CRITERIA_JSON":           criteriaJSON(req),
		"ANSWER":                  answer,
	})
	return []llm.Message{{Role: llm.RoleSystem, Content: content}}
}

// FollowUp asks the model to phrase a clarifying question for req.
func FollowUp(pc Context, req domain.Requirement, history []llm.Message) []llm.Message {
	content := render("follow_up.md", map[string]string{
		"FIRST_NAME":              pc.FirstName,
		"JOB_TITLE":               pc.JobTitle,
		"REQUIREMENT_DESCRIPTION": req.Description,
		"CRITERIA_JSON":           criteriaJSON(req),
	})
	return system(content, history)
}

// AcceptIntent builds the binary accept/decline classification request.
func AcceptIntent(answer string) []llm.Message {
	content := render("intent_accept.md", map[string]string{"ANSWER": answer})
	return []llm.Message{{Role: llm.RoleSystem, Content: content}}
}

// ContinueIntent builds the binary continue/stop classification request.
func ContinueIntent(answer string) []llm.Message {
	content := render("intent_continue.md", map[string]string{"ANSWER": answer})
	return []llm.Message{{Role: llm.RoleSystem, Content: content}}
}

// JobQuestionsWelcome builds the transition message into the Q&A phase.
func JobQuestionsWelcome(pc Context, history []llm.Message) []llm.Message {
	content := render("job_questions_welcome.md", map[string]string{
		"FIRST_NAME": pc.FirstName,
		"JOB_TITLE":  pc.JobTitle,
	})
	return system(content, history)
}

// JobAnswer builds the request answering a candidate question from the
// job facts.
func JobAnswer(pc Context, facts []domain.JobFact, question string, history []llm.Message) []llm.Message {
	content := render("job_answer.md", map[string]string{
		"JOB_TITLE": pc.JobTitle,
		"FACTS":     renderFacts(facts),
		"ANSWER":    question,
	})
	return system(content, history)
}

// Completion builds the closing-narrative request.
func Completion(pc Context, decision domain.Decision, outcomes string, history []llm.Message) []llm.Message {
	content := render("completion.md", map[string]string{
		"FIRST_NAME": pc.FirstName,
		"JOB_TITLE":  pc.JobTitle,
		"DECISION":   string(decision),
		"OUTCOMES":   outcomes,
	})
	return system(content, history)
}

// Condense builds the summary-condensation request.
func Condense(summary string, budget int) []llm.Message {
	content := render("condense.md", map[string]string{
		"SUMMARY": summary,
		"BUDGET":  fmt.Sprintf("%d", budget),
	})
	return []llm.Message{{Role: llm.RoleSystem, Content: content}}
}

func renderFacts(facts []domain.JobFact) string {
	if len(facts) == 0 {
		return "- none on file"
	}
	var builder strings.Builder
	for _, fact := range facts {
		fmt.Fprintf(&builder, "- %s: %s\n", fact.FactType, fact.Content)
	}
	return strings.TrimRight(builder.String(), "\n")
}
