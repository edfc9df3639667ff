package config

import "encoding/json"

// TerminalOptions are the rendering options offered to terminal clients.
// The JSON form is what the server publishes at its page URL.
type TerminalOptions struct {
	CursorBlink         bool          `yaml:"cursor_blink" json:"cursorBlink"`
	CursorInactiveStyle string        `yaml:"cursor_inactive_style" json:"cursorInactiveStyle,omitempty"`
	CursorStyle         string        `yaml:"cursor_style" json:"cursorStyle,omitempty"`
	FontSize            int           `yaml:"font_size" json:"fontSize,omitempty"`
	FontFamily          string        `yaml:"font_family" json:"fontFamily,omitempty"`
	LineHeight          float64       `yaml:"line_height" json:"lineHeight,omitempty"`
	Theme               TerminalTheme `yaml:"theme" json:"theme"`
	Scrollback          int           `yaml:"scrollback" json:"scrollback,omitempty"`
	DisableStdin        bool          `yaml:"disable_stdin" json:"disableStdin"`
	ConvertEol          bool          `yaml:"convert_eol" json:"convertEol,omitempty"`
}

// TerminalTheme is the color scheme of a terminal surface.
type TerminalTheme struct {
	Background          string `yaml:"background" json:"background,omitempty"`
	Foreground          string `yaml:"foreground" json:"foreground,omitempty"`
	SelectionBackground string `yaml:"selection_background" json:"selectionBackground,omitempty"`
	SelectionForeground string `yaml:"selection_foreground" json:"selectionForeground,omitempty"`
	Cursor              string `yaml:"cursor" json:"cursor,omitempty"`
	CursorAccent        string `yaml:"cursor_accent" json:"cursorAccent,omitempty"`
	Black               string `yaml:"black" json:"black,omitempty"`
	Red                 string `yaml:"red" json:"red,omitempty"`
	Green               string `yaml:"green" json:"green,omitempty"`
	Yellow              string `yaml:"yellow" json:"yellow,omitempty"`
	Blue                string `yaml:"blue" json:"blue,omitempty"`
	Magenta             string `yaml:"magenta" json:"magenta,omitempty"`
	Cyan                string `yaml:"cyan" json:"cyan,omitempty"`
	White               string `yaml:"white" json:"white,omitempty"`
	BrightBlack         string `yaml:"bright_black" json:"brightBlack,omitempty"`
	BrightRed           string `yaml:"bright_red" json:"brightRed,omitempty"`
	BrightGreen         string `yaml:"bright_green" json:"brightGreen,omitempty"`
	BrightYellow        string `yaml:"bright_yellow" json:"brightYellow,omitempty"`
	BrightBlue          string `yaml:"bright_blue" json:"brightBlue,omitempty"`
	BrightMagenta       string `yaml:"bright_magenta" json:"brightMagenta,omitempty"`
	BrightCyan          string `yaml:"bright_cyan" json:"brightCyan,omitempty"`
	BrightWhite         string `yaml:"bright_white" json:"brightWhite,omitempty"`
}

// ThemeDefault is a dark theme.
var ThemeDefault = TerminalTheme{
	Background:          "#1e1e1e",
	Foreground:          "#d4d4d4",
	SelectionBackground: "#264f78",
	Cursor:              "#aeafad",
	Black:               "#000000",
	Red:                 "#cd3131",
	Green:               "#0dbc79",
	Yellow:              "#e5e510",
	Blue:                "#2472c8",
	Magenta:             "#bc3fbc",
	Cyan:                "#11a8cd",
	White:               "#e5e5e5",
	BrightBlack:         "#666666",
	BrightRed:           "#f14c4c",
	BrightGreen:         "#23d18b",
	BrightYellow:        "#f5f543",
	BrightBlue:          "#3b8eea",
	BrightMagenta:       "#d670d6",
	BrightCyan:          "#29b8db",
	BrightWhite:         "#e5e5e5",
}

// DefaultTerminalOptions returns the options used when none are configured.
func DefaultTerminalOptions() TerminalOptions {
	return TerminalOptions{
		CursorBlink: true,
		FontSize:    12,
		FontFamily:  `"Monaspace Neon",Menlo,Consolas,ui-monospace,monospace`,
		LineHeight:  1.2,
		Scrollback:  1000,
		Theme:       ThemeDefault,
	}
}

// Rendering returns the options as a generic map, theme excluded, for
// surfaces that take pass-through settings.
func (o TerminalOptions) Rendering() map[string]any {
	raw, err := json.Marshal(o)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	delete(out, "theme")
	return out
}

func (o TerminalOptions) String() string {
	raw, _ := json.MarshalIndent(o, "", "  ")
	return string(raw)
}
