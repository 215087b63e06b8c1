// Package archive turns sequencing run directories into self-verifying
// archive directories and restores them.
//
// Two archive forms are produced. A compressed archive, NAME.archive,
// holds one or more tar.gz volumes per subarchive with an md5 listing next
// to each volume. A copy archive, NAME, is a plain copy of the source.
// Both carry an ARCHIVE_METADATA directory with the metadata record, the
// manifest and the integrity checksums.
//
// # Quick Start
//
// Archive a run directory, split into 250M volumes:
//
//	a, err := archive.Create(ctx, "/data/RUN01", "/archive",
//	    archive.CreateWithVolumeSize(250<<20),
//	    archive.CreateWithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//
// Verify and restore it:
//
//	if _, err := a.Verify(ctx); err != nil {
//	    return err
//	}
//	dir, err := a.Unpack(ctx, "/restore")
//
// # Prechecks
//
// Every builder walks the source first and collects a [Report] of
// [Problem] values. Hard problems always block. Soft problems block unless
// the force override is given, and each names the degradation accepted by
// overriding it. Blocking reports are returned as a *[PrecheckError] that
// matches every blocking category with errors.Is:
//
//	_, err := archive.Copy(ctx, src, dst)
//	if errors.Is(err, archive.ErrCaseCollision) {
//	    ...
//	}
//
// [PrecheckArchive] and [PrecheckCopy] run the same checks without writing
// anything.
//
// # Destinations
//
// Builders and the restorer never replace an existing path. Output is
// written to a reserved staging directory and renamed into place only
// after it is complete; a failure leaves the destination absent. [Archive.Extract]
// skips destinations that exist and reports them.
package archive
