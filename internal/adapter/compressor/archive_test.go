package compressor

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/mholt/archives"
	. "github.com/smartystreets/goconvey/convey"
)

func writeDumps(dir string) map[string]string {
	files := map[string]string{}
	for name, content := range map[string]string{
		"app.sql":   "CREATE TABLE users (id int);",
		"audit.sql": "CREATE TABLE log (id int);",
	} {
		p := filepath.Join(dir, "dump_"+name)
		So(os.WriteFile(p, []byte(content), 0644), ShouldBeNil)
		files[p] = name
	}
	return files
}

func TestBundler(t *testing.T) {
	Convey("Given a temporary directory with dump files", t, func() {
		dir := t.TempDir()
		files := writeDumps(dir)
		ctx := context.Background()

		for _, format := range []string{FormatZip, FormatTarGz} {
			format := format
			Convey("When bundling as "+format, func() {
				b, err := New(format)
				So(err, ShouldBeNil)
				So(b.Extension(), ShouldEqual, format)

				dest := filepath.Join(dir, "backup_prod_20261016_120000."+b.Extension())
				So(b.Archive(ctx, files, dest), ShouldBeNil)

				Convey("The archive should hold every file under its archive name", func() {
					fsys, err := archives.FileSystem(ctx, dest, nil)
					So(err, ShouldBeNil)

					data, err := fs.ReadFile(fsys, "app.sql")
					So(err, ShouldBeNil)
					So(string(data), ShouldEqual, "CREATE TABLE users (id int);")

					data, err = fs.ReadFile(fsys, "audit.sql")
					So(err, ShouldBeNil)
					So(string(data), ShouldEqual, "CREATE TABLE log (id int);")
				})
			})
		}

		Convey("When the format is unknown", func() {
			_, err := New("rar")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "unsupported archive format")
		})

		Convey("When the source file does not exist", func() {
			b, _ := New("")
			dest := filepath.Join(dir, "out.zip")
			err := b.Archive(ctx, map[string]string{filepath.Join(dir, "missing.sql"): "missing.sql"}, dest)

			Convey("It should fail without leaving a file behind", func() {
				So(err, ShouldNotBeNil)
				_, statErr := os.Stat(dest)
				So(os.IsNotExist(statErr), ShouldBeTrue)
			})
		})

		Convey("When the destination is invalid", func() {
			b, _ := New(FormatZip)
			err := b.Archive(ctx, files, filepath.Join(dir, "nope", "out.zip"))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to create dest file")
		})

		Convey("When there is nothing to archive", func() {
			b, _ := New(FormatZip)
			So(b.Archive(ctx, nil, filepath.Join(dir, "out.zip")), ShouldNotBeNil)
		})
	})
}

func TestChecksum(t *testing.T) {
	Convey("Given a file with known content", t, func() {
		p := filepath.Join(t.TempDir(), "abc.txt")
		So(os.WriteFile(p, []byte("abc"), 0644), ShouldBeNil)

		Convey("Checksum should return its SHA-256", func() {
			sum, err := Checksum(p)
			So(err, ShouldBeNil)
			So(sum, ShouldEqual, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad")
		})

		Convey("Checksum of a missing file should fail", func() {
			_, err := Checksum(p + ".missing")
			So(err, ShouldNotBeNil)
		})
	})
}
