package mailer

import "strings"

// Render replaces {{name}} placeholders with their values. Unknown
// placeholders are left in place so a missing variable is visible in
// the output rather than silently blanked.
func Render(text string, vars map[string]string) string {
	if text == "" || len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
