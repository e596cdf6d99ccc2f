package service

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/unclebandit/phishguard-backend/internal/model"
)

// RenderTemplate substitutes {key} placeholders in one pass. Placeholders
// without a value are left as written.
func RenderTemplate(template string, data map[string]string) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", data[k])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// TrackingPaths returns the open and click paths for a campaign kind.
func TrackingPaths(kind model.CampaignKind) (open, click string) {
	if kind == model.KindAd {
		return "/a/v/", "/a/c/"
	}
	return "/t/o/", "/t/c/"
}

// RenderMessage builds the instrumented message for one target: recipient
// placeholders filled, an open pixel injected and the template's action link
// routed through the click tracker.
func RenderMessage(kind model.CampaignKind, tpl *model.Template, user *model.User, target *model.Target, baseURL string) model.Message {
	openPath, clickPath := TrackingPaths(kind)
	pixelURL := baseURL + openPath + target.Token
	clickURL := baseURL + clickPath + target.Token
	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none">`, pixelURL)

	data := map[string]string{
		"first_name":     html.EscapeString(user.FirstName),
		"last_name":      html.EscapeString(user.LastName),
		"email":          html.EscapeString(user.Email),
		"department":     html.EscapeString(user.Department),
		"action_url":     clickURL,
		"tracking_pixel": pixel,
	}
	body := RenderTemplate(tpl.BodyHTML, data)

	if tpl.ActionURL != "" {
		body = strings.ReplaceAll(body, `href="`+tpl.ActionURL+`"`, `href="`+clickURL+`"`)
		body = strings.ReplaceAll(body, `href='`+tpl.ActionURL+`'`, `href='`+clickURL+`'`)
	}

	if !strings.Contains(tpl.BodyHTML, "{tracking_pixel}") {
		body = injectPixel(body, pixel)
	}

	subject := RenderTemplate(tpl.Subject, map[string]string{
		"first_name": user.FirstName,
		"last_name":  user.LastName,
		"department": user.Department,
	})

	return model.Message{
		To:       user.Email,
		ToName:   user.FullName(),
		Subject:  subject,
		HTML:     body,
		PixelURL: pixelURL,
		ClickURL: clickURL,
	}
}

func injectPixel(body, pixel string) string {
	const closing = "</body>"
	for i := len(body) - len(closing); i >= 0; i-- {
		if strings.EqualFold(body[i:i+len(closing)], closing) {
			return body[:i] + pixel + body[i:]
		}
	}
	return body + pixel
}
