// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package locale holds hamrah's user-facing copy and timestamp formatting.
//
// Persian (fa-IR) is the default: timestamps use the Solar Hijri calendar and
// Persian digits. English is the only other supported language.
package locale

import (
	"fmt"
	"strings"
	"time"

	ptime "github.com/yaa110/go-persian-calendar"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/hamrah/internal/model"
)

// DefaultTag is used when no requested language matches.
const DefaultTag = "fa-IR"

var (
	persianTag = language.MustParse(DefaultTag)
	supported  = []language.Tag{persianTag, language.English}
	matcher    = language.NewMatcher(supported)
)

// Locale formats copy and timestamps for one language.
type Locale struct {
	tag     language.Tag
	persian bool
	loc     *time.Location
}

// Default returns the Persian locale in local time.
func Default() Locale {
	return Locale{tag: persianTag, persian: true, loc: time.Local}
}

// Parse matches s (a BCP 47 tag or an Accept-Language list) against the
// supported languages. Unparseable or unsupported input yields Default.
func Parse(s string) Locale {
	s = strings.TrimSpace(s)
	if s == "" {
		return Default()
	}
	tags, _, err := language.ParseAcceptLanguage(s)
	if err != nil || len(tags) == 0 {
		return Default()
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return Default()
	}
	return Locale{tag: supported[idx], persian: idx == 0, loc: time.Local}
}

// In returns a copy of l that formats timestamps in loc.
func (l Locale) In(loc *time.Location) Locale {
	if loc != nil {
		l.loc = loc
	}
	return l
}

// String returns the BCP 47 tag.
func (l Locale) String() string {
	return l.tag.String()
}

// IsRTL reports whether the language is written right to left.
func (l Locale) IsRTL() bool {
	return l.persian
}

// =============================================================================
// COPY
// =============================================================================

// Apology is the assistant turn appended when a completion fails.
func (l Locale) Apology() string {
	if l.persian {
		return "متاسفانه خطایی رخ داد. لطفا دوباره تلاش کنید."
	}
	return "Sorry, something went wrong. Please try again."
}

// ConversationTitle is the title of a new conversation with a persona.
func (l Locale) ConversationTitle(personaName string) string {
	if l.persian {
		return "چت با " + personaName
	}
	return "Chat with " + personaName
}

// RoleLabel names a message author for display.
func (l Locale) RoleLabel(r model.Role) string {
	if !l.persian {
		switch r {
		case model.RoleUser:
			return "You"
		case model.RoleAssistant:
			return "Assistant"
		}
		return "System"
	}
	switch r {
	case model.RoleUser:
		return "شما"
	case model.RoleAssistant:
		return "دستیار"
	}
	return "سیستم"
}

// =============================================================================
// TIMESTAMPS
// =============================================================================

// FormatTimestamp renders t as date and time, e.g. "۱۴۰۳/۱۲/۱۱، ۱۵:۳۰:۰۰" for
// Persian or "3/1/2025, 15:30:00" for English.
func (l Locale) FormatTimestamp(t time.Time) string {
	loc := l.loc
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	clock := fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())

	if !l.persian {
		return fmt.Sprintf("%d/%d/%d, %s", int(t.Month()), t.Day(), t.Year(), clock)
	}
	jy, jm, jd := ToJalali(t)
	return PersianDigits(fmt.Sprintf("%d/%02d/%02d، %s", jy, jm, jd, clock))
}

// ToJalali returns the Solar Hijri date of t in t's location.
func ToJalali(t time.Time) (jy, jm, jd int) {
	pt := ptime.New(t)
	return pt.Year(), int(pt.Month()), pt.Day()
}

var persianDigits = strings.NewReplacer(
	"0", "۰", "1", "۱", "2", "۲", "3", "۳", "4", "۴",
	"5", "۵", "6", "۶", "7", "۷", "8", "۸", "9", "۹",
)

// PersianDigits replaces ASCII digits with Extended Arabic-Indic digits.
func PersianDigits(s string) string {
	return persianDigits.Replace(s)
}

// =============================================================================
// INPUT
// =============================================================================

// NormalizeInput trims user text and converts it to Unicode NFC, so the same
// Persian text typed on different keyboards compares and searches equal.
func NormalizeInput(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}
