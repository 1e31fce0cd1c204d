package forms

import (
	"fmt"
	"strings"
)

// Prompt is a system/user message pair.
type Prompt struct {
	System string
	User   string
}

const consultationSystemPrompt = `You are provided with notes written by a doctor from a patient's visit.
Your job is to summarize the visit for the doctor and provide an email.
Reply with exactly three sections with the headings:
### Summary of visit for the doctor's records
### Next steps for the doctor
### Draft of email to patient in patient-friendly language`

const ideaSystemPrompt = `You are a startup advisor.`

const ideaUserPrompt = `Come up with a new business idea for AI Agents.
Format the reply in Markdown with headings, sub-headings and bullet points.`

// ConsultationPrompt builds the consultation prompt. An empty system override keeps
// the built-in instructions.
func ConsultationPrompt(v Visit, systemOverride string) Prompt {
	system := consultationSystemPrompt
	if s := strings.TrimSpace(systemOverride); s != "" {
		system = s
	}
	return Prompt{
		System: system,
		User: fmt.Sprintf("Create the summary, next steps and draft email for:\nPatient Name: %s\nDate of Visit: %s\nNotes:\n%s",
			v.PatientName, v.DateOfVisit, v.Notes),
	}
}

// IdeaPrompt builds the business idea prompt.
func IdeaPrompt(systemOverride string) Prompt {
	system := ideaSystemPrompt
	if s := strings.TrimSpace(systemOverride); s != "" {
		system = s
	}
	return Prompt{System: system, User: ideaUserPrompt}
}
