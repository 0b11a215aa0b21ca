package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/loqalabs/loqa-phonemizer/internal/bus"
	"github.com/loqalabs/loqa-phonemizer/internal/protocol"
)

func requestCommand(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	c := newCommonFlags("request", stderr)
	server := c.fs.String("server", "", "NATS server URL (default from configuration)")
	timeout := c.fs.Duration("timeout", 30*time.Second, "Request timeout")
	if err := c.fs.Parse(args); err != nil {
		return err
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	if *server != "" {
		cfg.Bus.Servers = []string{*server}
	}

	text, err := readInput(c.input, stdin)
	if err != nil {
		return err
	}

	req := protocol.PhonemizeRequest{Text: text}
	set := c.set()
	if set["l"] {
		req.Language = c.language
	}
	if set["p"] {
		req.PhoneSeparator = &c.phoneSeparator
	}
	if set["w"] {
		req.WordSeparator = &c.wordSeparator
	}
	if set["strip"] {
		req.Strip = &c.strip
	}
	if set["with-stress"] {
		req.WithStress = &c.withStress
	}
	req.LanguageSwitch = c.languageSwitch
	req.UnicodeForm = c.unicodeForm

	logger := c.logger(stderr)
	client, err := bus.Connect(ctx, cfg.Bus, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	var resp protocol.PhonemizeResponse
	if err := client.RequestJSON(ctx, protocol.SubjectPhonemizeRequest, req, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	if len(resp.SwitchedLines) > 0 {
		fmt.Fprintf(stderr, "language switches on lines %v\n", resp.SwitchedLines)
	}
	return writeLines(stdout, resp.Lines)
}
