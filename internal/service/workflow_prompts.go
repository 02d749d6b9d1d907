package service

import (
	"fmt"
	"strings"

	"github.com/spec-kit/ticket-intake/internal/domain"
	"github.com/spec-kit/ticket-intake/internal/validation"
)

const defaultBugTemplate = `Steps to reproduce:
1.
2.

Expected behaviour:

Actual behaviour:`

var (
	categoryLabels = map[domain.Category]string{
		domain.CategoryBug:         "Bug",
		domain.CategoryImprovement: "Improvement",
		domain.CategoryRequest:     "Request",
		domain.CategoryGeneral:     "Something else",
	}
	labelNames = map[domain.TicketLabel]string{
		domain.LabelBug:         "Bug",
		domain.LabelImprovement: "Improvement",
		domain.LabelRequest:     "Request",
	}
	priorityNames = map[domain.TicketPriority]string{
		domain.TicketPriorityUrgent: "Urgent",
		domain.TicketPriorityHigh:   "High",
		domain.TicketPriorityMedium: "Medium",
		domain.TicketPriorityLow:    "Low",
	}
)

const (
	msgUseControls   = "Please use the provided controls."
	msgEmptyTemplate = "The description cannot be empty. Fill in the template and send it back."
	msgRestart       = "Your session has ended. Start again with /new."
	msgMainMenu      = "Start a new ticket with /new."
	msgCancelled     = "Cancelled. Nothing was submitted."
	msgTryLater      = "Your request was saved but the tracker could not be reached. Please try again later."
	msgRejectedLate  = "Your request was saved but the tracker refused it. Please try again later or contact a reviewer."
)

func (w *Workflow) promptFor(session *domain.Session) *Prompt {
	p := &Prompt{UserID: session.UserID, Expect: InputSelection}
	draft := session.Draft

	switch session.State {
	case domain.StateIdle:
		p.Text = msgMainMenu
		p.Expect = InputNone
	case domain.StateAwaitingCategory:
		p.Text = "What kind of request is this?"
		for _, c := range domain.Categories {
			p.Options = append(p.Options, Option{Action: ActionCategory, Value: string(c), Label: categoryLabels[c]})
		}
	case domain.StateAwaitingTitle:
		p.Text = fmt.Sprintf("Send a short title (%d-%d characters).", validation.TitleMinLength, validation.TitleMaxLength)
		p.Expect = InputText
	case domain.StateAwaitingDescription:
		p.Expect = InputText
		if draft.AwaitingTemplate {
			p.Text = "Copy this template, fill it in and send it back:\n\n" + w.templateFor(draft.Label)
		} else {
			p.Text = fmt.Sprintf("Describe the request in at least %d characters.", validation.DescriptionMinLength)
		}
	case domain.StateAwaitingLabel:
		p.Text = "Which label fits best?"
		for _, l := range domain.Labels {
			p.Options = append(p.Options, Option{Action: ActionLabel, Value: string(l), Label: labelNames[l]})
		}
	case domain.StateAwaitingTemplateChoice:
		p.Text = "Would you like to use the bug report template for the description?"
		p.Options = []Option{
			{Action: ActionTemplate, Value: TemplateUse, Label: "Use template"},
			{Action: ActionTemplate, Value: TemplateSkip, Label: "Skip"},
		}
	case domain.StateAwaitingPriority:
		p.Text = "How urgent is it?"
		for _, pr := range domain.Priorities {
			p.Options = append(p.Options, Option{Action: ActionPriority, Value: string(pr), Label: priorityNames[pr]})
		}
	case domain.StateAwaitingConfirmation:
		p.Text = summarize(draft)
		p.Options = []Option{
			{Action: ActionConfirm, Value: ConfirmSubmit, Label: "Submit"},
			{Action: ActionConfirm, Value: ConfirmEdit, Label: "Edit"},
			{Action: ActionConfirm, Value: ConfirmCancel, Label: "Cancel"},
		}
	case domain.StateSelectingEditField:
		p.Text = "Which field do you want to change?"
		p.Options = []Option{
			{Action: ActionEditField, Value: FieldTitle, Label: "Title"},
			{Action: ActionEditField, Value: FieldDescription, Label: "Description"},
			{Action: ActionEditField, Value: FieldLabel, Label: "Label"},
			{Action: ActionEditField, Value: FieldPriority, Label: "Priority"},
		}
	case domain.StateAddingComment:
		p.Text = fmt.Sprintf("Send the comment for ticket %s.", targetOf(session))
		p.Expect = InputText
	case domain.StateUpdatingStatus:
		p.Text = fmt.Sprintf("Pick the new status for ticket %s.", targetOf(session))
		for _, opt := range w.catalog.Statuses() {
			p.Options = append(p.Options, Option{Action: ActionStatus, Value: opt.ID, Label: opt.Name})
		}
	case domain.StateAssigningIssue:
		p.Text = fmt.Sprintf("Who should own ticket %s?", targetOf(session))
		for _, opt := range w.catalog.Assignees() {
			p.Options = append(p.Options, Option{Action: ActionAssignee, Value: opt.ID, Label: opt.Name})
		}
	}
	return p
}

func (w *Workflow) templateFor(label domain.TicketLabel) string {
	if w.catalog != nil {
		if text, ok := w.catalog.Template(label); ok {
			return text
		}
	}
	return defaultBugTemplate
}

func summarize(d domain.Draft) string {
	label := labelNames[d.Label]
	if label == "" {
		label = "none"
	}
	var b strings.Builder
	b.WriteString("Please review your ticket:\n\n")
	fmt.Fprintf(&b, "Title: %s\n", d.Title)
	fmt.Fprintf(&b, "Label: %s\n", label)
	fmt.Fprintf(&b, "Priority: %s\n", priorityNames[d.Priority])
	fmt.Fprintf(&b, "Description:\n%s", d.Description)
	return b.String()
}

func targetOf(session *domain.Session) string {
	if session.Operation == nil {
		return ""
	}
	return session.Operation.TargetTicketID
}

func idlePrompt(userID, text string) *Prompt {
	return &Prompt{UserID: userID, Text: text, Expect: InputNone}
}
