package triage

import "strings"

// Level 表示症状描述的紧急程度。
type Level string

const (
	Routine   Level = "routine"
	Monitor   Level = "monitor"
	Urgent    Level = "urgent"
	Emergency Level = "emergency"
)

// rank orders levels; a higher rank wins ties between buckets.
var rank = map[Level]int{
	Routine:   0,
	Monitor:   1,
	Urgent:    2,
	Emergency: 3,
}

// Assessment 给出紧急程度以及命中的关键词。
type Assessment struct {
	Level   Level
	Score   int
	Matches []string
}

var keywordBuckets = map[Level][]string{
	Emergency: {
		"胸痛", "胸口痛", "呼吸困难", "喘不上气", "昏迷", "晕倒", "大出血", "抽搐", "中风", "口角歪斜", "自杀", "不想活",
		"chest pain", "can't breathe", "cannot breathe", "shortness of breath", "unconscious", "fainted",
		"severe bleeding", "seizure", "stroke", "slurred speech", "suicide", "kill myself", "overdose",
	},
	Urgent: {
		"高烧", "持续发烧", "剧烈疼痛", "剧痛", "呕血", "便血", "严重过敏", "脱水", "意识模糊", "骨折",
		"high fever", "severe pain", "vomiting blood", "blood in stool", "allergic reaction", "swelling",
		"dehydrated", "confused", "broken bone", "can't keep fluids",
	},
	Monitor: {
		"发烧", "咳嗽", "头痛", "头疼", "腹泻", "恶心", "呕吐", "皮疹", "失眠", "乏力", "喉咙痛", "头晕",
		"fever", "cough", "headache", "diarrhea", "nausea", "vomiting", "rash", "insomnia", "fatigue",
		"sore throat", "dizzy", "dizziness",
	},
}

// durationHints push a Monitor complaint towards Urgent when it has lasted.
var durationHints = []string{"好几天", "一周", "几周", "持续", "越来越", "for days", "for a week", "weeks", "getting worse", "worsening"}

// Assess 根据用户描述推断症状的紧急程度。
func Assess(text string) Assessment {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Assessment{Level: Routine}
	}

	scores := make(map[Level]int)
	matches := make(map[Level][]string)
	for level, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[level] += 3
				matches[level] = append(matches[level], word)
			}
		}
	}

	if scores[Monitor] > 0 {
		for _, hint := range durationHints {
			if strings.Contains(normalized, hint) {
				// 症状持续或加重时提升一级
				scores[Urgent] += 2
				matches[Urgent] = append(matches[Urgent], hint)
				break
			}
		}
	}

	best := Routine
	for level, score := range scores {
		if score == 0 {
			continue
		}
		if rank[level] > rank[best] {
			best = level
		}
	}

	if best == Routine {
		return Assessment{Level: Routine}
	}
	return Assessment{Level: best, Score: scores[best], Matches: matches[best]}
}

// Guidance 返回写入系统提示词的分诊提示，Routine 时为空。
func (a Assessment) Guidance() string {
	switch a.Level {
	case Emergency:
		return "The user describes possible emergency signs (" + strings.Join(a.Matches, ", ") + "). Start by telling them to call local emergency services now."
	case Urgent:
		return "The user describes symptoms that may need prompt care (" + strings.Join(a.Matches, ", ") + "). Recommend seeing a clinician today."
	case Monitor:
		return "The user describes common symptoms. Suggest self-care and say which warning signs should prompt a visit."
	default:
		return ""
	}
}
