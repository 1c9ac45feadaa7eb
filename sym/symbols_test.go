package sym

import (
	"testing"
	"unicode/utf8"
)

func TestSymbolToCommandAndCommandToSymbolAreBidirectional(t *testing.T) {
	for symbol, cmd := range SymbolToCommand {
		got, ok := CommandToSymbol[cmd]
		if !ok {
			t.Errorf("SymbolToCommand has %q → %q, but CommandToSymbol has no entry for %q", symbol, cmd, cmd)
			continue
		}
		if got != symbol {
			t.Errorf("bidirectional mismatch: SymbolToCommand[%q] = %q, but CommandToSymbol[%q] = %q", symbol, cmd, cmd, got)
		}
	}

	if len(SymbolToCommand) != len(CommandToSymbol) {
		t.Errorf("map size mismatch: SymbolToCommand has %d entries, CommandToSymbol has %d",
			len(SymbolToCommand), len(CommandToSymbol))
	}
}

func TestCommandDescriptionsCoversAllCommands(t *testing.T) {
	for cmd := range CommandToSymbol {
		if _, ok := CommandDescriptions[cmd]; !ok {
			t.Errorf("CommandDescriptions missing entry for command %q", cmd)
		}
	}
	for cmd := range CommandDescriptions {
		if _, ok := CommandToSymbol[cmd]; !ok {
			t.Errorf("CommandDescriptions has entry for %q which is not in CommandToSymbol", cmd)
		}
	}
}

func TestGlyphsAreSingleRunes(t *testing.T) {
	for _, g := range []string{AM, Trans, Job, History, Open, Close, DB, Hook, Nested} {
		if n := utf8.RuneCountInString(g); n != 1 {
			t.Errorf("glyph %q has %d runes, want 1", g, n)
		}
	}
}

func TestPrefix(t *testing.T) {
	if got := Prefix(Open, "graph started"); got != "✿ graph started" {
		t.Errorf("Prefix() = %q", got)
	}
	if got := Prefix("", "plain"); got != "plain" {
		t.Errorf("Prefix() = %q", got)
	}
}
