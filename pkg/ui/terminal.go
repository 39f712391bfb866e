package ui

import (
	"fmt"
	"io"
	"strings"

	"igcrawler/pkg/models"
)

// ASCII logo for the application
const ASCIILogo = `
    ╔═══════════════════════════════════════════════════════════╗
    ║  ██╗ ██████╗  ██████╗██████╗  █████╗ ██╗    ██╗██╗        ║
    ║  ██║██╔════╝ ██╔════╝██╔══██╗██╔══██╗██║    ██║██║        ║
    ║  ██║██║  ███╗██║     ██████╔╝███████║██║ █╗ ██║██║        ║
    ║  ██║██║   ██║██║     ██╔══██╗██╔══██║██║███╗██║██║        ║
    ║  ██║╚██████╔╝╚██████╗██║  ██║██║  ██║╚███╔███╔╝███████╗   ║
    ║  ╚═╝ ╚═════╝  ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝ ╚══╝╚══╝ ╚══════╝   ║
    ║          SUGGESTED-PROFILE FRONTIER CRAWLER               ║
    ╚═══════════════════════════════════════════════════════════╝
`

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

// colorize returns a function that wraps text with ANSI color codes
func colorize(colorString string) func(string) string {
	return func(text string) string {
		return fmt.Sprintf(colorString, text)
	}
}

// PrintLogo prints the ASCII logo with color
func PrintLogo() {
	fmt.Print(Cyan(ASCIILogo))
}

// PrintError prints an error message in red
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Println(Red(msg + ": " + fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Println(Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	fmt.Println(Green(msg))
}

// PrintInfo prints an info message in cyan
func PrintInfo(label string, value string) {
	fmt.Printf("%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Println(Yellow(msg + ": " + fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Println(Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	fmt.Println(Magenta(msg))
}

// FormatRecord renders one record as a single terminal line
func FormatRecord(rec models.ProfileRecord) string {
	name := rec.Username
	if name == "" {
		name = models.UsernameFromURL(rec.ProfileID)
	}

	if rec.Failed {
		line := fmt.Sprintf("%s @%s %s", Red("✗"), name, Red(rec.ErrorType))
		if rec.Error != "" {
			line += " " + Dim(rec.Error)
		}
		return line
	}

	parts := []string{fmt.Sprintf("%s @%s", Green("✓"), Cyan(name))}
	if rec.FollowerCount != "" {
		parts = append(parts, Yellow(rec.FollowerCount)+" followers")
	}
	if n := len(rec.Discovered); n > 0 {
		parts = append(parts, fmt.Sprintf("%d suggested", n))
	}
	if len(rec.BioLinks) > 0 {
		parts = append(parts, Dim(strings.Join(rec.BioLinks, " ")))
	}
	if rec.Suggester != "" {
		parts = append(parts, Dim("via @"+models.UsernameFromURL(rec.Suggester)))
	}
	return strings.Join(parts, " • ")
}

// PrintRecords writes one line per record, followed by the trace of failed
// records when withTrace is set
func PrintRecords(w io.Writer, records []models.ProfileRecord, withTrace bool) {
	for _, rec := range records {
		fmt.Fprintln(w, FormatRecord(rec))
		if withTrace && rec.Failed {
			for _, line := range rec.Trace {
				fmt.Fprintf(w, "    %s\n", Dim(line))
			}
		}
	}
}
