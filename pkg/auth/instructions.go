package auth

import (
	"fmt"
	"io"
	"strings"
)

// WriteCookieGuide writes the steps for copying session cookies out of a
// logged-in browser
func WriteCookieGuide(w io.Writer) {
	rule := strings.Repeat("=", 72)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "INSTAGRAM SESSION COOKIES")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The crawler opens profile pages in a browser that must be logged in.")
	fmt.Fprintln(w, "When it launches its own browser it installs these cookies first.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "1. Log in at https://www.instagram.com in your usual browser.")
	fmt.Fprintln(w, "2. Open Developer Tools (F12, or Cmd+Option+I on macOS).")
	fmt.Fprintln(w, "3. Network tab: reload, click any instagram.com request,")
	fmt.Fprintln(w, "   and copy the whole 'Cookie:' request header.")
	fmt.Fprintln(w, "   Or Application/Storage tab > Cookies > https://www.instagram.com.")
	fmt.Fprintln(w, "4. The values needed:")
	fmt.Fprintln(w, "     sessionid   long value containing %3A")
	fmt.Fprintln(w, "     csrftoken   32 characters")
	fmt.Fprintln(w, "     ds_user_id  numeric, optional")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "These cookies grant full access to the account. They are stored in the")
	fmt.Fprintln(w, "system keychain or an encrypted file, never in the config file.")
	fmt.Fprintln(w, rule)
}

// WriteQuickGuide writes the one-line version of the guide
func WriteQuickGuide(w io.Writer) {
	fmt.Fprintln(w, "F12 > Network > reload > any instagram.com request > Headers > Cookie")
	fmt.Fprintln(w, "Paste the whole header, or type 'help' for detailed instructions.")
}
