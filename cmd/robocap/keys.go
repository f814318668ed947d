package main

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/robocap/robocap/pkg/record"
)

// startKeyReader consumes single keystrokes from the terminal and
// translates them into record-loop commands. The returned restore
// function puts the terminal back into cooked mode; it must be called
// after the loop exits because the reader goroutine may still be
// blocked in Read when the session ends through the memory guard or a
// signal. On a non-terminal stdin (tests, headless runs) the reader is
// a no-op and the loop is driven by signals and the guard only.
func startKeyReader(loop *record.Loop, logger zerolog.Logger) (restore func()) {
	fd := int(os.Stdin.Fd())

	if !term.IsTerminal(fd) {
		logger.Warn().Msg("stdin is not a terminal, keyboard controls disabled")
		return func() {}
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		logger.Warn().Err(err).Msg("raw terminal unavailable, keyboard controls disabled")
		return func() {}
	}

	var once sync.Once
	restore = func() {
		once.Do(func() { _ = term.Restore(fd, oldState) })
	}

	go func() {
		defer restore()

		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil || n == 0 {
				return
			}

			switch buf[0] {
			case 'n', 'N':
				loop.Command(record.CmdSaveAndNext)
			case 'p', 'P':
				loop.Command(record.CmdProceed)
			case 'a', 'A':
				loop.Command(record.CmdAbort)
			case 'e', 'E':
				// Exit is identical from every state, including the
				// inter-episode reset.
				logger.Info().Msg("stopping session")
				loop.Command(record.CmdExit)
				return
			case 3: // Ctrl+C arrives as a byte in raw mode
				loop.Command(record.CmdExit)
				return
			}
		}
	}()
	return restore
}
