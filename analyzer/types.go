package analyzer

import (
	"time"

	"github.com/seo-optimizer/competitive-insights/contentupdates"
	"github.com/seo-optimizer/competitive-insights/result"
	"github.com/seo-optimizer/competitive-insights/sources"
)

// SiteAnalysis is every signal collected for one site. Failed signals carry
// their unavailable shape, so consumers read one layout either way.
type SiteAnalysis struct {
	Domain          string                                  `json:"domain"`
	PageAnalysis    result.Result[sources.PageData]         `json:"pageAnalysis"`
	Lighthouse      result.Result[sources.LighthouseData]   `json:"lighthouse"`
	PageSpeed       result.Result[sources.PageSpeedData]    `json:"pageSpeed"`
	TechnicalSEO    result.Result[sources.TechnicalData]    `json:"technicalSEO"`
	Traffic         result.Result[sources.TrafficData]      `json:"traffic"`
	Backlinks       result.Result[sources.BacklinksData]    `json:"backlinks"`
	ChangeDetection result.Result[sources.ChangeData]       `json:"changeDetection"`
	ContentUpdates  result.Result[contentupdates.Snapshot] `json:"contentUpdates"`
	Performance     PhaseTimings                            `json:"_performance"`
	AnalyzedAt      time.Time                               `json:"analyzedAt"`
}

// PhaseTimings records how long each phase took, in milliseconds
type PhaseTimings struct {
	Phase1 int64 `json:"phase1"`
	Phase2 int64 `json:"phase2"`
	Phase3 int64 `json:"phase3"`
	Total  int64 `json:"total"`
}

// signalStatus pairs a signal name with whether it succeeded
type signalStatus struct {
	name string
	ok   bool
}

func (s *SiteAnalysis) statuses() []signalStatus {
	return []signalStatus{
		{sources.SignalPage, s.PageAnalysis.OK},
		{sources.SignalLighthouse, s.Lighthouse.OK},
		{sources.SignalPageSpeed, s.PageSpeed.OK},
		{sources.SignalTechnical, s.TechnicalSEO.OK},
		{sources.SignalTraffic, s.Traffic.OK},
		{sources.SignalBacklinks, s.Backlinks.OK},
		{sources.SignalChanges, s.ChangeDetection.OK},
		{sources.SignalContentUpdates, s.ContentUpdates.OK},
	}
}

// Failed lists the signals that did not succeed, in report order
func (s *SiteAnalysis) Failed() []string {
	failed := make([]string, 0)
	for _, st := range s.statuses() {
		if !st.ok {
			failed = append(failed, st.name)
		}
	}
	return failed
}

// AnySucceeded reports whether at least one signal produced data about the
// site. Content monitoring only counts when it found a feed or sitemap.
func (s *SiteAnalysis) AnySucceeded() bool {
	for _, st := range s.statuses() {
		if st.ok && st.name != sources.SignalContentUpdates {
			return true
		}
	}
	cu := s.ContentUpdates
	return cu.OK && (cu.Data.RSS.Found || cu.Data.Sitemap.Found)
}
