package wdp

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/portal"
)

const (
	packagesPath     = "/api/app/packagemanager/packages"
	packagePath      = "/api/app/packagemanager/package"
	installStatePath = "/api/app/packagemanager/state"
	taskManagerPath  = "/api/taskmanager/app"
)

func (c *Client) InstalledApps(ctx context.Context) (portal.AppPackages, error) {
	var out portal.AppPackages
	err := c.getJSON(ctx, packagesPath, nil, &out)
	return out, err
}

// InstallApplication uploads the package with its dependencies and certificate,
// then polls the package manager until the install settles. Every phase is
// reported as an install status event.
func (c *Client) InstallApplication(ctx context.Context, appName string, files portal.InstallFiles) error {
	label := appName
	if label == "" {
		label = files.PackageFileName()
	}
	c.emitInstall(portal.InstallStarted, fmt.Sprintf("Installing %s", label))

	if err := c.upload(ctx, files); err != nil {
		c.emitInstall(portal.InstallFailed, fmt.Sprintf("Failed to upload %s: %v", label, err))
		return err
	}
	c.emitInstall(portal.InstallInProgress, fmt.Sprintf("Registering %s", label))

	if err := c.waitInstalled(ctx); err != nil {
		c.emitInstall(portal.InstallFailed, fmt.Sprintf("Failed to install %s: %v", label, err))
		return err
	}
	c.emitInstall(portal.InstallCompleted, fmt.Sprintf("Installed %s", label))
	return nil
}

func (c *Client) upload(ctx context.Context, files portal.InstallFiles) error {
	parts := make([]string, 0, len(files.Dependencies)+2)
	parts = append(parts, files.AppPackage)
	parts = append(parts, files.Dependencies...)
	if files.Certificate != "" {
		parts = append(parts, files.Certificate)
	}
	for _, path := range parts {
		if _, err := os.Stat(path); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryValidation, "install file not readable").
				WithContext("file", path).
				Build()
		}
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeParts(form, parts))
	}()

	query := url.Values{"package": {files.PackageFileName()}}
	resp, err := c.doWith(ctx, c.uploadClient(), http.MethodPost, packagePath, query, pr, form.FormDataContentType())
	_ = pr.Close()
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func writeParts(form *multipart.Writer, paths []string) error {
	for _, path := range paths {
		if err := copyPart(form, path); err != nil {
			return err
		}
	}
	return form.Close()
}

func copyPart(form *multipart.Writer, path string) error {
	f, err := os.Open(path) //nolint:gosec // install files are chosen by the operator
	if err != nil {
		return err
	}
	defer f.Close()
	name := filepath.Base(path)
	w, err := form.CreateFormFile(name, name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// waitInstalled polls install state. The portal answers 204 while the install
// runs, 200 once it succeeded and an error status when it failed.
func (c *Client) waitInstalled(ctx context.Context) error {
	ticker := time.NewTicker(c.installPoll)
	defer ticker.Stop()
	for {
		resp, err := c.do(ctx, http.MethodGet, installStatePath, nil, nil, "")
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		status := resp.StatusCode
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if status != http.StatusNoContent {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) UninstallApplication(ctx context.Context, packageFullName string) error {
	return c.send(ctx, http.MethodDelete, packagePath, url.Values{"package": {encodeParam(packageFullName)}})
}

// LaunchApplication starts appID from the package and looks up the process id
// of the started app. A zero pid with a nil error means the process did not
// show up in time.
func (c *Client) LaunchApplication(ctx context.Context, appID, packageFullName string) (uint32, error) {
	query := url.Values{
		"appid":   {encodeParam(appID)},
		"package": {encodeParam(packageFullName)},
	}
	if err := c.send(ctx, http.MethodPost, taskManagerPath, query); err != nil {
		return 0, err
	}

	for attempt := 0; attempt < launchPidLookups; attempt++ {
		procs, err := c.RunningProcesses(ctx)
		if err != nil {
			return 0, err
		}
		for _, p := range procs.Processes {
			if p.PackageFullName == packageFullName {
				return p.ProcessID, nil
			}
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(launchPidLookupWait):
		}
	}
	return 0, nil
}

func (c *Client) TerminateApplication(ctx context.Context, packageFullName string) error {
	err := c.send(ctx, http.MethodDelete, taskManagerPath, url.Values{"package": {encodeParam(packageFullName)}})
	if ferrors.HasCategory(err, ferrors.CategoryNotFound) {
		return nil
	}
	return err
}
