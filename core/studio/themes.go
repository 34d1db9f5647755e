package studio

import "mvgen/core/analysis"

// visualConcepts 情绪到画面关键词的映射，用于素材检索
var visualConcepts = map[analysis.Mood][]string{
	analysis.MoodHappy:       {"sunshine", "bright colors", "nature", "celebration"},
	analysis.MoodSad:         {"rain", "grey", "empty spaces", "silhouettes"},
	analysis.MoodEnergetic:   {"motion", "sports", "dancing", "city lights"},
	analysis.MoodCalm:        {"ocean", "sunset", "clouds", "peaceful landscapes"},
	analysis.MoodIntense:     {"fire", "storm", "dramatic lighting", "action"},
	analysis.MoodMelancholic: {"autumn", "fading light", "solitude", "vintage"},
	analysis.MoodUplifting:   {"sunrise", "mountains", "flight", "success"},
	analysis.MoodDark:        {"night", "shadows", "mystery", "urban"},
}

// Themes 根据情绪生成画面主题，首项总是情绪本身
func Themes(mood analysis.Mood) []string {
	themes := []string{string(mood)}
	seen := map[string]bool{string(mood): true}
	for _, c := range visualConcepts[mood] {
		if !seen[c] {
			seen[c] = true
			themes = append(themes, c)
		}
	}
	return themes
}
