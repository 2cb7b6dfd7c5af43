package digest

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"sort"
	"strings"
	texttemplate "text/template"
)

type symptomLine struct {
	Name  string
	Score string
}

type renderView struct {
	Summary
	Symptoms   []symptomLine
	Confidence string
}

var templateFuncs = map[string]any{
	"number": formatNumber,
	"signed": formatSigned,
	"title":  titleCase,
}

var htmlDigest = htmltemplate.Must(htmltemplate.New("digest").Funcs(templateFuncs).Parse(`<!doctype html>
<html><body style="font-family: sans-serif; color: #222;">
<h2>Your {{.DigestType}} wellness digest</h2>
<p>{{.Period.From}} to {{.Period.To}}</p>
{{- if .LogsCount}}
<h3>Mood</h3>
<ul>
<li>Days logged: {{.LogsCount}}</li>
{{- if .AvgMood}}<li>Average mood: {{number .AvgMood}}</li>{{end}}
<li>Mood trend: {{signed .MoodTrend}}</li>
</ul>
{{- end}}
{{- if .SleepTrend}}
<h3>Sleep</h3>
<ul>
{{- if .AvgSleep}}<li>Average sleep: {{number .AvgSleep}} hours</li>{{end}}
<li>Sleep trend: {{signed .SleepTrend}}</li>
</ul>
{{- end}}
{{- if .RecentNotes}}
<h3>Recent notes</h3>
<ul>{{range .RecentNotes}}<li>{{.}}</li>{{end}}</ul>
{{- end}}
{{- if .Prediction}}
<h3>Outlook</h3>
<ul>{{range .Symptoms}}<li>{{title .Name}}: {{.Score}} / 2</li>{{end}}</ul>
{{- if .Confidence}}<p>Confidence: {{.Confidence}}</p>{{end}}
{{- end}}
{{- if .PartnerSummary}}
<h3>How to support</h3>
<p>{{.PartnerSummary}}</p>
{{- end}}
{{- if .AcademyLesson}}
<h3>Learn</h3>
<p>{{.AcademyLesson}}</p>
{{- end}}
{{- if .DoDont}}
<h3>Do</h3>
<ul>{{range .DoDont.Do}}<li>{{.}}</li>{{end}}</ul>
<h3>Don't</h3>
<ul>{{range .DoDont.Dont}}<li>{{.}}</li>{{end}}</ul>
{{- end}}
{{- if not .HasContent}}
<p>No details were shared for this period.</p>
{{- end}}
</body></html>
`))

var textDigest = texttemplate.Must(texttemplate.New("digest").Funcs(templateFuncs).Parse(`Your {{.DigestType}} wellness digest
{{.Period.From}} to {{.Period.To}}
{{- if .LogsCount}}

Mood
- Days logged: {{.LogsCount}}
{{- if .AvgMood}}
- Average mood: {{number .AvgMood}}
{{- end}}
- Mood trend: {{signed .MoodTrend}}
{{- end}}
{{- if .SleepTrend}}

Sleep
{{- if .AvgSleep}}
- Average sleep: {{number .AvgSleep}} hours
{{- end}}
- Sleep trend: {{signed .SleepTrend}}
{{- end}}
{{- if .RecentNotes}}

Recent notes
{{- range .RecentNotes}}
- {{.}}
{{- end}}
{{- end}}
{{- if .Prediction}}

Outlook
{{- range .Symptoms}}
- {{title .Name}}: {{.Score}} / 2
{{- end}}
{{- if .Confidence}}
Confidence: {{.Confidence}}
{{- end}}
{{- end}}
{{- if .PartnerSummary}}

How to support
{{.PartnerSummary}}
{{- end}}
{{- if .AcademyLesson}}

Learn
{{.AcademyLesson}}
{{- end}}
{{- if .DoDont}}

Do
{{- range .DoDont.Do}}
- {{.}}
{{- end}}

Don't
{{- range .DoDont.Dont}}
- {{.}}
{{- end}}
{{- end}}
{{- if not .HasContent}}

No details were shared for this period.
{{- end}}
`))

// Render produces the HTML and plain-text bodies. It depends only on the summary.
func Render(summary Summary) (string, string, error) {
	view := newRenderView(summary)
	var html bytes.Buffer
	if err := htmlDigest.Execute(&html, view); err != nil {
		return "", "", fmt.Errorf("render html digest: %w", err)
	}
	var text bytes.Buffer
	if err := textDigest.Execute(&text, view); err != nil {
		return "", "", fmt.Errorf("render text digest: %w", err)
	}
	return html.String(), text.String(), nil
}

// Subject builds the message subject from the period only.
func Subject(summary Summary) string {
	return fmt.Sprintf("Your %s wellness digest (%s to %s)", summary.DigestType, summary.Period.From, summary.Period.To)
}

func newRenderView(summary Summary) renderView {
	view := renderView{Summary: summary}
	if summary.Prediction == nil {
		return view
	}
	names := make([]string, 0, len(summary.Prediction.PredictedSymptoms))
	for name := range summary.Prediction.PredictedSymptoms {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		left, right := summary.Prediction.PredictedSymptoms[names[i]], summary.Prediction.PredictedSymptoms[names[j]]
		if left != right {
			return left > right
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		view.Symptoms = append(view.Symptoms, symptomLine{Name: name, Score: formatNumber(summary.Prediction.PredictedSymptoms[name])})
	}
	if summary.Prediction.Confidence != nil {
		view.Confidence = fmt.Sprintf("%.0f%%", *summary.Prediction.Confidence*100)
	}
	return view
}

func formatNumber(value any) string {
	switch typed := value.(type) {
	case *float64:
		if typed == nil {
			return ""
		}
		return fmt.Sprintf("%.2f", *typed)
	case float64:
		return fmt.Sprintf("%.2f", typed)
	default:
		return fmt.Sprint(value)
	}
}

func formatSigned(value *float64) string {
	if value == nil {
		return ""
	}
	return fmt.Sprintf("%+.2f", *value)
}

func titleCase(name string) string {
	words := strings.Split(name, "_")
	for index, word := range words {
		if word != "" {
			words[index] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return strings.Join(words, " ")
}
