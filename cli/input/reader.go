// Package input 终端行输入：init 的问答和 console 的命令行。
package input

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chzyer/readline"
)

// ErrInterrupted 用户按下 Ctrl+C
var ErrInterrupted = errors.New("interrupted")

const historyLimit = 1000

func baseConfig(prompt string) *readline.Config {
	return &readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	}
}

// ReadLineDefault 问一个问题，直接回车时用 def
func ReadLineDefault(label, def string) (string, error) {
	prompt := label + ": "
	if def != "" {
		prompt = fmt.Sprintf("%s [%s]: ", label, def)
	}

	cfg := baseConfig(prompt)
	cfg.UniqueEditLine = true
	rl, err := readline.NewEx(cfg)
	if err != nil {
		return "", err
	}
	defer rl.Close()

	line, err := rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		return "", ErrInterrupted
	}
	if err != nil {
		return "", err
	}
	if line = strings.TrimSpace(line); line == "" {
		return def, nil
	}
	return line, nil
}

// NewReadline console 使用的行编辑器，斜杠命令可 Tab 补全，historyFile 为空时不保存历史
func NewReadline(prompt, historyFile string, commands []string) (*readline.Instance, error) {
	cfg := baseConfig(prompt)
	cfg.HistoryFile = historyFile
	cfg.HistoryLimit = historyLimit
	cfg.AutoComplete = Completer(commands)
	return readline.NewEx(cfg)
}

// Completer 斜杠命令补全，没有命令时为 nil
func Completer(commands []string) readline.AutoCompleter {
	if len(commands) == 0 {
		return nil
	}
	items := make([]readline.PrefixCompleterInterface, len(commands))
	for i, c := range commands {
		items[i] = readline.PcItem(c)
	}
	return readline.NewPrefixCompleter(items...)
}
