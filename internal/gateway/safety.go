// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"google.golang.org/genai"

	"github.com/jeranaias/hamrah/internal/model"
)

// Harm categories sent with every request.
var HarmCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

// Threshold maps a safety policy to the API block threshold. Unknown policies
// get the default threshold.
func Threshold(p model.SafetyPolicy) genai.HarmBlockThreshold {
	switch p {
	case model.SafetyRelaxed:
		return genai.HarmBlockThresholdBlockOnlyHigh
	case model.SafetyUnfiltered:
		return genai.HarmBlockThresholdBlockNone
	default:
		return genai.HarmBlockThresholdBlockMediumAndAbove
	}
}

// SafetySettings returns one setting per harm category, all at the policy's
// threshold.
func SafetySettings(p model.SafetyPolicy) []*genai.SafetySetting {
	threshold := Threshold(p)
	settings := make([]*genai.SafetySetting, len(HarmCategories))
	for i, c := range HarmCategories {
		settings[i] = &genai.SafetySetting{Category: c, Threshold: threshold}
	}
	return settings
}
