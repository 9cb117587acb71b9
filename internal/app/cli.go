package app

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/tenantdesk/internal/auth"
	"github.com/hitoshi/tenantdesk/internal/model"
)

// userError はユーザー向けの1行メッセージに変換する。
func userError(err error) error {
	if apiErr, ok := model.AsAPIError(err); ok {
		if apiErr.Action != "" {
			return fmt.Errorf("%s %s", apiErr.Message, apiErr.Action)
		}
		return errors.New(apiErr.Message)
	}
	return err
}

// runStatus はセッション状態と表示ルートを出力する。トークン自体は出力しない。
func runStatus(c *core, stdio IO) error {
	s := c.controller.Session()
	fmt.Fprintf(stdio.Stdout, "state: %s\n", s.State)
	fmt.Fprintf(stdio.Stdout, "root: %s\n", c.gate.Current())

	if s.IsAuthenticated() {
		if info, err := auth.InspectToken(s.Token); err == nil && !info.ExpiresAt.IsZero() {
			fmt.Fprintf(stdio.Stdout, "token_expires_at: %s\n", info.ExpiresAt.UTC().Format(time.RFC3339))
			if info.Expired(time.Now()) {
				fmt.Fprintln(stdio.Stdout, "token has expired; run logout and sign in again")
			}
		}
	}
	return nil
}

// runLogin はパスワードでログインする。
// 二段階認証が必要で-phoneが指定されていれば、続けて確認コードの入力を受け付ける。
func runLogin(ctx context.Context, c *core, args []string, stdio IO) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(stdio.Stderr)
	email := fs.String("email", "", "login email address")
	password := fs.String("password", "", "login password")
	phone := fs.String("phone", "", "phone number for the verification code step")
	if err := fs.Parse(args); err != nil {
		return err
	}

	outcome, err := c.login.Login(ctx, *email, *password)
	if err != nil {
		return userError(err)
	}
	if outcome.Message != "" {
		fmt.Fprintln(stdio.Stdout, outcome.Message)
	}
	if outcome.Authenticated {
		fmt.Fprintln(stdio.Stdout, "signed in")
		return nil
	}

	if *phone == "" {
		fmt.Fprintln(stdio.Stdout, "verification code required; run: otp -phone <number>")
		return nil
	}
	return verifyPhone(ctx, c, *phone, stdio)
}

// runOTPCommand は電話番号の確認コードでログインする。
func runOTPCommand(ctx context.Context, c *core, args []string, stdio IO) error {
	fs := flag.NewFlagSet("otp", flag.ContinueOnError)
	fs.SetOutput(stdio.Stderr)
	phone := fs.String("phone", "", "phone number to receive the code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return verifyPhone(ctx, c, *phone, stdio)
}

// verifyPhone は確認コードを送信し、標準入力から1行ずつコードを読み取って検証する。
// 空行は再送として扱う。入力の終端またはctxのキャンセルでチャレンジを破棄する。
func verifyPhone(ctx context.Context, c *core, phone string, stdio IO) error {
	if s := c.controller.Session(); s.IsAuthenticated() {
		return userError(model.NewAlreadyAuthenticatedError())
	}

	ch, err := c.flow.SubmitPhone(ctx, phone)
	if err != nil {
		return userError(err)
	}
	printChallenge(stdio, ch)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdio.Stdin)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(stdio.Stdout, "code (empty line to resend): ")

		var line string
		var ok bool
		select {
		case line, ok = <-lines:
		case <-ctx.Done():
			c.flow.Abandon()
			return ctx.Err()
		}
		if !ok {
			c.flow.Abandon()
			return errors.New("verification aborted")
		}

		if line == "" {
			ch, err := c.flow.SubmitPhone(ctx, phone)
			if err != nil {
				fmt.Fprintln(stdio.Stdout, userError(err))
				continue
			}
			printChallenge(stdio, ch)
			continue
		}

		ch, err := c.flow.SubmitCode(ctx, line)
		switch {
		case err == nil:
			fmt.Fprintln(stdio.Stdout, "signed in")
			return nil
		case ch.Status == model.OtpFailed:
			fmt.Fprintln(stdio.Stdout, userError(err))
			fmt.Fprintln(stdio.Stdout, "press enter to request a new code")
		default:
			fmt.Fprintln(stdio.Stdout, userError(err))
		}
	}
}

func printChallenge(stdio IO, ch model.OtpChallenge) {
	if ch.Message != "" {
		fmt.Fprintln(stdio.Stdout, ch.Message)
	}
}

// runRegister はユーザーを登録する。
func runRegister(ctx context.Context, c *core, args []string, stdio IO) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(stdio.Stderr)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	msg, err := c.login.Register(ctx, *name, *email, *password)
	if err != nil {
		return userError(err)
	}
	if msg == "" {
		msg = "registered"
	}
	fmt.Fprintln(stdio.Stdout, msg)
	return nil
}

// runLogout はログアウトする。ストレージの削除に失敗しても未ログインとして終了する。
func runLogout(ctx context.Context, c *core, stdio IO) error {
	s := c.controller.SignOut(ctx)
	fmt.Fprintf(stdio.Stdout, "state: %s\n", s.State)
	return nil
}

// runThirdParty はブラウザで完了したサードパーティログインを取り込む。
func runThirdParty(ctx context.Context, c *core, stdio IO) error {
	if err := c.login.CompleteThirdPartyLogin(ctx); err != nil {
		return userError(err)
	}
	fmt.Fprintln(stdio.Stdout, "signed in")
	return nil
}
