package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/kajande/dulayni-cli/internal/constants"
)

// Authentication methods offered by init.
const (
	methodPhone = "phone"
	methodKey   = "key"
)

var (
	errPhoneEmpty    = errors.New("phone number cannot be empty")
	errPhoneNoPlus   = errors.New("phone number must include the country code (start with +)")
	errPhoneTooShort = errors.New("phone number appears to be too short")
	errKeyEmpty      = errors.New("API key cannot be empty")
)

// validatePhone accepts numbers like "+221 77 000 00 00": a leading plus
// and at least seven digits.
func validatePhone(phone string) error {
	phone = strings.TrimSpace(phone)
	switch {
	case phone == "":
		return errPhoneEmpty
	case !strings.HasPrefix(phone, "+"):
		return errPhoneNoPlus
	}
	digits := 0
	for _, r := range phone[1:] {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < 7 {
		return errPhoneTooShort
	}
	return nil
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errKeyEmpty
	}
	return nil
}

// aborted maps a cancelled form to context.Canceled.
func aborted(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return context.Canceled
	}
	return err
}

// promptCode asks for the verification code sent to phone.
func (app *App) promptCode(ctx context.Context, phone string) (string, error) {
	if !app.stdinIsTerminal() {
		return app.readLine(fmt.Sprintf("Enter the verification code sent to %s: ", phone))
	}
	var code string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Verification code").
				Description(fmt.Sprintf("Enter the code sent to %s by WhatsApp", phone)).
				Value(&code).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("code cannot be empty")
					}
					return nil
				}),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return "", aborted(err)
	}
	return strings.TrimSpace(code), nil
}

// askMethod lets the user pick how to authenticate.
func (app *App) askMethod(ctx context.Context) (string, error) {
	if !app.stdinIsTerminal() {
		for {
			choice, err := app.readLine("Choose method (1 = WhatsApp verification, 2 = dulayni API key): ")
			if err != nil {
				return "", err
			}
			switch choice {
			case "1":
				return methodPhone, nil
			case "2":
				return methodKey, nil
			}
			fmt.Fprintln(app.errOut, "Please enter 1 or 2")
		}
	}

	method := methodPhone
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Choose authentication method").
				Options(
					huh.NewOption("WhatsApp verification (requires phone number)", methodPhone),
					huh.NewOption("dulayni API key (no phone verification needed)", methodKey),
				).
				Value(&method),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return "", aborted(err)
	}
	return method, nil
}

// askPhone asks until a valid phone number is entered.
func (app *App) askPhone(ctx context.Context) (string, error) {
	if !app.stdinIsTerminal() {
		for {
			phone, err := app.readLine("Enter your phone number (with country code, e.g., +1234567890): ")
			if err != nil {
				return "", err
			}
			if verr := validatePhone(phone); verr != nil {
				fmt.Fprintln(app.errOut, verr.Error())
				continue
			}
			return phone, nil
		}
	}

	var phone string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Phone number").
				Description("With country code, e.g. +1234567890").
				Value(&phone).
				Validate(validatePhone),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return "", aborted(err)
	}
	return strings.TrimSpace(phone), nil
}

// askKey asks for a dulayni API key. A key without the usual prefix needs
// confirmation.
func (app *App) askKey(ctx context.Context) (string, error) {
	for {
		key, err := app.readKey(ctx)
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(key, constants.APIKeyPrefix) {
			return key, nil
		}
		ok, err := app.confirm(ctx, fmt.Sprintf("dulayni API keys usually start with %q. Continue anyway?", constants.APIKeyPrefix))
		if err != nil {
			return "", err
		}
		if ok {
			return key, nil
		}
	}
}

func (app *App) readKey(ctx context.Context) (string, error) {
	if !app.stdinIsTerminal() {
		for {
			key, err := app.readLine("Enter your dulayni API key: ")
			if err != nil {
				return "", err
			}
			if verr := validateKey(key); verr != nil {
				fmt.Fprintln(app.errOut, verr.Error())
				continue
			}
			return key, nil
		}
	}

	var key string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("dulayni API key").
				EchoMode(huh.EchoModePassword).
				Value(&key).
				Validate(validateKey),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return "", aborted(err)
	}
	return strings.TrimSpace(key), nil
}

// confirm asks a yes/no question; anything but yes is no.
func (app *App) confirm(ctx context.Context, question string) (bool, error) {
	if !app.stdinIsTerminal() {
		answer, err := app.readLine(question + " [y/N]: ")
		if err != nil {
			return false, err
		}
		answer = strings.ToLower(answer)
		return answer == "y" || answer == "yes", nil
	}

	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(question).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return false, aborted(err)
	}
	return ok, nil
}
