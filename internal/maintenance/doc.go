// Package maintenance gates page requests behind a maintenance page.
//
// While maintenance_enabled is set, every request is blocked with a 503 page
// unless one of these holds, checked in order:
//
//  1. the caller is an authenticated host administrator
//  2. the path is under the host admin area or the control API root
//  3. the URL carries bypass_code equal to the stored code; the gate sets the
//     mrwp_bypass cookie and redirects to the same URL without the parameter
//  4. the request carries a mrwp_bypass cookie equal to the stored code
//
// Regenerating the bypass code revokes every cookie issued for the old one.
package maintenance
