package portal

import (
	"fmt"

	d "github.com/gstrgate/gstrgate/internal/driver"
)

// Locator lists are in priority order. Extending a list is the supported way
// to follow portal markup changes.

const upperCase = "translate(.,'abcdefghijklmnopqrstuvwxyz','ABCDEFGHIJKLMNOPQRSTUVWXYZ')"

// Form labels of the three dependent selects on the returns dashboard.
const (
	LabelYear    = "Financial Year"
	LabelQuarter = "Quarter"
	LabelPeriod  = "Period"
)

var (
	LoginLinks = []d.Locator{
		d.LinkText("LOGIN"),
		d.PartialLinkText("Login"),
		d.XPath("//a[normalize-space()='LOGIN' or normalize-space()='Login']"),
		d.CSS("a[href*='login']"),
		d.XPath("//a[contains(@class,'btn') and (contains(.,'LOGIN') or contains(.,'Login'))]"),
	}

	UsernameFields = []d.Locator{
		d.ID("username"),
		d.Name("username"),
		d.ID("userid"),
		d.Name("userid"),
		d.CSS("input[aria-label*='User' i]"),
		d.CSS("input[placeholder*='User' i]"),
		d.XPath("//label[contains(.,'User') or contains(.,'GSTIN')]/following::input[1]"),
		d.XPath("//input[@type='text' and (contains(@placeholder,'GSTIN') or contains(@placeholder,'User'))]"),
	}

	PasswordFields = []d.Locator{
		d.ID("user_pass"),
		d.Name("password"),
		d.CSS("input[type='password']"),
		d.CSS("input[aria-label*='Password' i]"),
		d.CSS("input[placeholder*='Password' i]"),
		d.XPath("//label[contains(.,'Password')]/following::input[@type='password'][1]"),
	}

	CaptchaImages = []d.Locator{
		d.XPath("/html/body/div[2]/div[2]/div/div[2]/div/div/div/div/div/form/div[5]/div/div/div/table/tbody/tr[1]/th[1]/img"),
		d.XPath("//img[contains(@src,'captcha') or contains(@id,'captcha') or contains(@alt,'CAPTCHA')]"),
	}

	CaptchaInputs = []d.Locator{
		d.XPath("//input[contains(translate(@placeholder,'ABCDEFGHIJKLMNOPQRSTUVWXYZ','abcdefghijklmnopqrstuvwxyz'),'captcha') " +
			"or contains(translate(@aria-label,'ABCDEFGHIJKLMNOPQRSTUVWXYZ','abcdefghijklmnopqrstuvwxyz'),'captcha') " +
			"or contains(@id,'captcha') or contains(@name,'captcha')]"),
	}

	VerifyButtons = []d.Locator{
		d.XPath("//button[contains(.,'Login') or contains(.,'Submit') or contains(.,'Verify')]"),
		d.XPath("//input[@type='submit']"),
	}

	LoggedInLandmarks = []d.Locator{
		d.XPath("//a[normalize-space()='Services']"),
		d.XPath("//a[normalize-space()='Returns']"),
	}

	ServicesMenu   = d.XPath("//a[normalize-space()='Services' or @title='Services']")
	ReturnsMenu    = d.XPath("//a[normalize-space()='Returns' and ancestor::*[contains(@class,'menu') or contains(@class,'navbar')]]")
	DashboardLinks = []d.Locator{
		d.XPath("//a[normalize-space()='Returns Dashboard']"),
		d.XPath("//a[contains(@href,'returns/dashboard') and contains(.,'Dashboard')]"),
	}

	// FormLandmark confirms the returns dashboard form is on screen.
	FormLandmark = d.XPath("//label[contains(.,'Financial Year')]")

	SearchButtons = []d.Locator{
		d.ID("search"),
		d.XPath("//button[normalize-space()='SEARCH' or contains(.,'Search')]"),
		d.XPath("//input[@type='submit' and (contains(@value,'SEARCH') or contains(@value,'Search'))]"),
	}

	TilePositional = []d.Locator{
		d.XPath("/html/body/div[2]/div[2]/div/div[2]/div[4]/div[4]/div[1]/div[2]/div/div/div/div/div[1]/button"),
		d.XPath("/html/body/div[2]/div[2]/div/div[2]/div[4]/div[3]/div[1]/div[3]/div/div/div/div/div[1]/button"),
	}

	TileContainers = d.XPath("//div[.//text()[contains(" + upperCase + ", 'GSTR-2B') or contains(" + upperCase + ", 'GSTR2B')]]")

	TileTargets = []d.Locator{
		d.XPath(".//div[contains(" + upperCase + ",'GSTR')]"),
		d.XPath(".//h3[contains(" + upperCase + ",'GSTR')]"),
		d.XPath(".//a[contains(" + upperCase + ",'GSTR')]"),
		d.XPath(".//button[contains(" + upperCase + ",'GSTR')]"),
		d.XPath(".//a|.//button"),
	}

	ArtifactPageLandmark = d.XPath("//*[contains(" + upperCase + ",'GSTR-2B') and " +
		"(contains(.,'SUMMARY') or contains(.,'ALL TABLES') or contains(.,'DOWNLOAD GSTR-2B'))]")

	DownloadButtons = []d.Locator{
		d.XPath("//button[normalize-space()='DOWNLOAD GSTR-2B DETAILS (EXCEL)']"),
		d.XPath("//a[normalize-space()='DOWNLOAD GSTR-2B DETAILS (EXCEL)']"),
		d.XPath("//button[contains(" + upperCase + ",'DOWNLOAD GSTR-2B DETAILS (EXCEL)')]"),
	}

	BackButtons = []d.Locator{
		d.XPath("//button[normalize-space()='BACK TO DASHBOARD']"),
		d.XPath("//a[normalize-space()='BACK TO DASHBOARD']"),
		d.XPath("//button[contains(.,'BACK') and contains(.,'DASHBOARD')]"),
	}
)

// SelectUnder locates the first select following the label containing text.
func SelectUnder(label string) d.Locator {
	return d.XPath(fmt.Sprintf("(//label[contains(., '%s')]/following::select)[1]", label))
}
