package prompt

// Prompt keys used by the workflow.
const (
	KeyContentInitial    = "content.initial"
	KeyContentRevision   = "content.revision"
	KeyContentValidate   = "content.validate"
	KeyResearchSummarize = "research.summarize"
	KeyVariantAdapt      = "variant.adapt"
)

// builtins are the global templates; a tenant override replaces the whole
// template for that tenant only.
var builtins = map[string]Template{
	KeyContentInitial: {
		Key:    KeyContentInitial,
		System: "You are a senior content writer. Write complete, well-structured Markdown. Output only the article body, no commentary.",
		User: `Write an article titled "{{.title}}".
{{if .has_description}}Brief: {{.description}}
{{end}}{{if .has_target_audience}}Audience: {{.target_audience}}
{{end}}{{if .has_tone}}Tone: {{.tone}}
{{end}}{{if .has_seo_keywords}}Work these SEO keywords in naturally: {{.seo_keywords}}
{{end}}{{if .has_research_summary}}Background research to draw on:
{{.research_summary}}
{{end}}Return the full article in Markdown.`,
	},
	KeyContentRevision: {
		Key:    KeyContentRevision,
		System: "You are a senior editor. Revise the draft to address the reviewer feedback while keeping what already works. Output only the revised article body.",
		User: `This is revision round {{.iteration}} for the article "{{.title}}".
{{if .has_tone}}Tone: {{.tone}}
{{end}}Current draft:
{{.previous_content}}

Issues found by review:
{{.feedback_issues}}

Recommendations:
{{.feedback_recommendations}}

Return the full revised article in Markdown.`,
	},
	KeyContentValidate: {
		Key:    KeyContentValidate,
		System: "You are an SEO content auditor. Respond with a single JSON object and nothing else.",
		User: `Score the following article for SEO quality on a 0-100 scale against the title "{{.title}}"{{if .has_seo_keywords}} and target keywords: {{.seo_keywords}}{{end}}.

Article:
{{.content}}

Respond with JSON: {"score": <int>, "status": "pass"|"fail", "issues": [...], "recommendations": [...], "strengths": [...]}`,
	},
	KeyResearchSummarize: {
		Key:    KeyResearchSummarize,
		System: "You are a research analyst. Summarize source material for a content writer.",
		User: `Topic: {{.topic}}
{{if .has_seo_keywords}}Keywords of interest: {{.seo_keywords}}
{{end}}Source material:
{{.source_text}}

Summarize the key facts, angles, and SEO opportunities in under 300 words.`,
	},
	KeyVariantAdapt: {
		Key:    KeyVariantAdapt,
		System: "You adapt finished articles for specific distribution channels. Output only the adapted content.",
		User: `Adapt the article below for the {{.channel}} channel.
Format: {{.format}}. Tone: {{.variant_tone}}.{{if .has_max_chars}} Hard limit: {{.max_chars}} characters.{{end}}

Article:
{{.content}}`,
	},
}
