package audit

// Stable task IDs for the specialist catalog. The catalog is fixed: eleven
// specialists plus the dependent report synthesis task.
const (
	TaskWebScraper      = "web_scraper"
	TaskScreenshot      = "screenshot"
	TaskCompanyResearch = "company_research"
	TaskCompetitor      = "competitor"
	TaskReviewSentiment = "review_sentiment"
	TaskSEO             = "seo"
	TaskMessaging       = "messaging"
	TaskVisualDesign    = "visual_design"
	TaskConversion      = "conversion"
	TaskSocial          = "social"
	TaskICP             = "icp"
	TaskReport          = "report"
)

// defaultCatalog mirrors the dependency phases of the audit pipeline: the
// scraper first, research and screenshots off the scraped content, the
// analysis fan-out, ICP off research, and the report synthesis last.
var defaultCatalog = []TaskSpec{
	{ID: TaskWebScraper, DisplayName: "Web Scraper", Required: true},
	{ID: TaskScreenshot, DisplayName: "Visual Screenshot Capture", DependsOn: []string{TaskWebScraper}, Required: true},
	{ID: TaskCompanyResearch, DisplayName: "Company Research", DependsOn: []string{TaskWebScraper}, Required: true},
	{ID: TaskCompetitor, DisplayName: "Competitor Intelligence", DependsOn: []string{TaskWebScraper}, Required: true},
	{ID: TaskReviewSentiment, DisplayName: "Reviews & Sentiment", DependsOn: []string{TaskWebScraper}, Required: true},
	{ID: TaskSEO, DisplayName: "SEO & Visibility", DependsOn: []string{TaskWebScraper}, Required: true},
	{ID: TaskMessaging, DisplayName: "Messaging & Positioning", DependsOn: []string{TaskWebScraper}, Required: true},
	{ID: TaskVisualDesign, DisplayName: "Visual & Design", DependsOn: []string{TaskWebScraper}, Required: true},
	{ID: TaskConversion, DisplayName: "Conversion Optimization", DependsOn: []string{TaskWebScraper}, Required: true},
	{ID: TaskSocial, DisplayName: "Social & Engagement", DependsOn: []string{TaskWebScraper}, Required: true},
	{ID: TaskICP, DisplayName: "ICP & Segmentation", DependsOn: []string{TaskWebScraper, TaskCompanyResearch}, Required: true},
	{
		ID:          TaskReport,
		DisplayName: "Report Generation",
		DependsOn: []string{
			TaskWebScraper, TaskScreenshot, TaskCompanyResearch, TaskCompetitor,
			TaskReviewSentiment, TaskSEO, TaskMessaging, TaskVisualDesign,
			TaskConversion, TaskSocial, TaskICP,
		},
		Synthesis: true,
	},
}

// quickTasks is the subset of specialists a quick audit runs.
var quickTasks = map[string]struct{}{
	TaskWebScraper:      {},
	TaskScreenshot:      {},
	TaskCompanyResearch: {},
	TaskSEO:             {},
	TaskMessaging:       {},
	TaskCompetitor:      {},
	TaskReport:          {},
}

// CatalogForMode returns the TaskSpecs a job in the given mode runs.
// Dependency sets are filtered down to the selected tasks so a quick audit's
// report does not wait on specialists that were never scheduled.
func CatalogForMode(mode Mode) []TaskSpec {
	if mode != ModeQuick {
		out := make([]TaskSpec, len(defaultCatalog))
		copy(out, defaultCatalog)
		return out
	}

	var out []TaskSpec
	for _, spec := range defaultCatalog {
		if _, ok := quickTasks[spec.ID]; !ok {
			continue
		}
		var deps []string
		for _, dep := range spec.DependsOn {
			if _, ok := quickTasks[dep]; ok {
				deps = append(deps, dep)
			}
		}
		spec.DependsOn = deps
		out = append(out, spec)
	}
	return out
}
