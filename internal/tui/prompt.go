package tui

import (
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
)

// ErrCancelled is returned by a Prompter when the operator aborts a dialog.
var ErrCancelled = errors.New("cancelled")

// Prompter asks the operator questions.
type Prompter interface {
	Select(message string, options []string) (int, error)
	MultiSelect(message, help string, options []string) ([]int, error)
	Confirm(message string, def bool) (bool, error)
	Password(message string) (string, error)
	// Message shows text and waits for acknowledgement.
	Message(title, text string) error
}

// SurveyPrompter asks on the terminal.
type SurveyPrompter struct {
	Opts []survey.AskOpt
	// Continue is the text of the acknowledgement prompt.
	Continue string
}

func (s SurveyPrompter) Select(message string, options []string) (int, error) {
	var idx int
	err := survey.AskOne(&survey.Select{Message: message, Options: options, PageSize: 12}, &idx, s.Opts...)
	return idx, mapErr(err)
}

func (s SurveyPrompter) MultiSelect(message, help string, options []string) ([]int, error) {
	var picked []string
	err := survey.AskOne(&survey.MultiSelect{Message: message, Help: help, Options: options, PageSize: 12}, &picked, s.Opts...)
	if err != nil {
		return nil, mapErr(err)
	}
	pos := map[string]int{}
	for i, o := range options {
		pos[o] = i
	}
	out := make([]int, 0, len(picked))
	for _, p := range picked {
		out = append(out, pos[p])
	}
	return out, nil
}

func (s SurveyPrompter) Confirm(message string, def bool) (bool, error) {
	ok := def
	err := survey.AskOne(&survey.Confirm{Message: message, Default: def}, &ok, s.Opts...)
	return ok, mapErr(err)
}

func (s SurveyPrompter) Password(message string) (string, error) {
	var pw string
	err := survey.AskOne(&survey.Password{Message: message}, &pw, s.Opts...)
	return pw, mapErr(err)
}

func (s SurveyPrompter) Message(title, text string) error {
	fmt.Println()
	titleColor.Println(title)
	fmt.Println(text)
	var ignored string
	msg := s.Continue
	if msg == "" {
		msg = "Press Enter to continue"
	}
	return mapErr(survey.AskOne(&survey.Input{Message: msg}, &ignored, s.Opts...))
}

func mapErr(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return ErrCancelled
	}
	return err
}
