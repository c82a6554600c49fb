package metrics

import "expvar"

var (
	BookRefreshes      = expvar.NewInt("dex_book_refreshes")
	BookRefreshErrors  = expvar.NewInt("dex_book_refresh_errors")
	Submissions        = expvar.NewInt("dex_submissions")
	SubmissionFailures = expvar.NewInt("dex_submission_failures")
	SubmissionsBlocked = expvar.NewInt("dex_submissions_blocked")
)
