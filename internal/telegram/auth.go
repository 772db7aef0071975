package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// ErrNotAuthorized means the stored session is signed out and the
// caller did not supply an interactive flow.
var ErrNotAuthorized = errors.New("not authorized: run the auth command first")

// TermAuth answers the sign-in flow from a terminal. The phone number
// comes from config when set, otherwise it is prompted like the rest.
type TermAuth struct {
	phone string
	in    *bufio.Reader
	out   io.Writer
}

func NewTermAuth(phone string, in io.Reader, out io.Writer) *TermAuth {
	return &TermAuth{phone: phone, in: bufio.NewReader(in), out: out}
}

func (a *TermAuth) Phone(ctx context.Context) (string, error) {
	if a.phone != "" {
		return a.phone, nil
	}
	return a.prompt("Phone number (international format): ")
}

func (a *TermAuth) Code(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
	return a.prompt("Login code: ")
}

func (a *TermAuth) Password(ctx context.Context) (string, error) {
	return a.prompt("Two-factor password: ")
}

func (a *TermAuth) AcceptTermsOfService(ctx context.Context, tos tg.HelpTermsOfService) error {
	return nil
}

func (a *TermAuth) SignUp(ctx context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("sign up from this client is not supported")
}

func (a *TermAuth) prompt(label string) (string, error) {
	if _, err := fmt.Fprint(a.out, label); err != nil {
		return "", err
	}
	line, err := a.in.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// noAuth fails every prompt. Used by the daemon, which must never block
// on a terminal.
type noAuth struct{}

func (noAuth) Phone(context.Context) (string, error)    { return "", ErrNotAuthorized }
func (noAuth) Password(context.Context) (string, error) { return "", ErrNotAuthorized }
func (noAuth) Code(context.Context, *tg.AuthSentCode) (string, error) {
	return "", ErrNotAuthorized
}
func (noAuth) AcceptTermsOfService(context.Context, tg.HelpTermsOfService) error {
	return ErrNotAuthorized
}
func (noAuth) SignUp(context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, ErrNotAuthorized
}
