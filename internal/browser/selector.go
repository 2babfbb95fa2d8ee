package browser

import (
	"fmt"
	"strings"

	"github.com/gstrgate/gstrgate/internal/driver"
)

// Selector translates a driver locator into a Playwright selector string.
func Selector(loc driver.Locator) (string, error) {
	switch loc.By {
	case driver.ByID:
		return "id=" + loc.Value, nil
	case driver.ByName:
		return fmt.Sprintf("css=[name=%s]", cssString(loc.Value)), nil
	case driver.ByCSS:
		return "css=" + loc.Value, nil
	case driver.ByXPath:
		return "xpath=" + loc.Value, nil
	case driver.ByLinkText:
		return fmt.Sprintf("xpath=//a[normalize-space(.)=%s]", xpathString(loc.Value)), nil
	case driver.ByPartialLinkText:
		return fmt.Sprintf("xpath=//a[contains(normalize-space(.), %s)]", xpathString(loc.Value)), nil
	}
	return "", fmt.Errorf("unsupported locator strategy %q", loc.By)
}

func cssString(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// xpathString quotes s as an XPath 1.0 literal, which has no escapes.
func xpathString(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	for i, p := range parts {
		parts[i] = `"` + p + `"`
	}
	return "concat(" + strings.Join(parts, `, '"', `) + ")"
}
