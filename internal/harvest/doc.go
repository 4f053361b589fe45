// Package harvest defines the domain types shared by the sitemap walker, the
// fetch workers, and the harvest coordinator: tasks, terminal outcomes, the
// retryable error taxonomy, ProviderID extraction, and the collaborator
// interfaces each component is built against.
package harvest
