// Package discovery walks the paginated sitemap of the target directory and
// produces the candidate URL list (all_urls.txt) consumed by the harvester.
//
// Pages are requested as {base}/{template}-{type}-{page}.xml starting at page
// zero. A walk for one resource type ends on the first non-success status
// (exhaustion), on a body carrying the access-denial marker, or on a body that
// is not well-formed XML. Pages already fetched are remembered in
// progress.json so an interrupted walk resumes where it stopped.
package discovery
