package knowledge

import "strings"

// GeneralUX is the intent used when no category keyword matches.
const GeneralUX = "General UX"

type intentCategory struct {
	name     string
	keywords []string
}

// declaration order breaks score ties
var intentCategories = []intentCategory{
	{"Accessibility", []string{"accessibility", "accessible", "a11y", "contrast", "screen reader", "wcag", "aria", "color blind", "keyboard navigation", "alt text"}},
	{"Conversion", []string{"conversion", "checkout", "call to action", "cta", "signup", "sign up", "funnel", "purchase", "pricing"}},
	{"Mobile", []string{"mobile", "responsive", "touch target", "thumb", "small screen"}},
	{"Visual Hierarchy", []string{"visual hierarchy", "hierarchy", "layout", "spacing", "typography", "alignment", "whitespace"}},
	{"Navigation", []string{"navigation", "menu", "information architecture", "wayfinding", "breadcrumb"}},
	{"Forms", []string{"forms", "form field", "input field", "validation", "error message"}},
	{"Trust", []string{"trust", "credibility", "testimonial", "security badge", "social proof"}},
}

var industries = []struct {
	name     string
	keywords []string
}{
	{"E-commerce", []string{"e-commerce", "ecommerce", "shop", "cart", "product page", "store"}},
	{"SaaS", []string{"saas", "dashboard", "onboarding", "subscription", "b2b"}},
	{"Fintech", []string{"fintech", "banking", "payment", "wallet", "finance"}},
	{"Healthcare", []string{"healthcare", "patient", "medical", "clinic"}},
	{"Education", []string{"education", "course", "student", "learning"}},
}

// DetectIntent scores each category by the total length of its keywords that
// occur in prompt, so longer and more specific phrases weigh more.
func DetectIntent(prompt string) string {
	p := strings.ToLower(prompt)
	best, bestScore := GeneralUX, 0
	for _, c := range intentCategories {
		score := 0
		for _, kw := range c.keywords {
			if strings.Contains(p, kw) {
				score += len(kw)
			}
		}
		if score > bestScore {
			best, bestScore = c.name, score
		}
	}
	return best
}

// DetectIndustry returns the first industry whose keyword occurs in prompt.
func DetectIndustry(prompt string) string {
	p := strings.ToLower(prompt)
	for _, ind := range industries {
		for _, kw := range ind.keywords {
			if strings.Contains(p, kw) {
				return ind.name
			}
		}
	}
	return ""
}
